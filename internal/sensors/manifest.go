// Package sensors loads the sensor manifests provisioned on this
// gateway. Each *.yaml file in the manifest directory describes one
// sensor; the set is loaded once at startup and used to register the
// per-sensor streams before any producer or consumer starts.
package sensors

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/halcyon-labs/edgelink/internal/events"
)

// DefaultPollInterval applies when a manifest omits poll_interval.
const DefaultPollInterval = 30 * time.Second

// Manifest describes one sensor attached to this gateway.
type Manifest struct {
	ID           string
	Name         string
	Type         string
	PatientID    string
	Manufacturer string
	Model        string
	PollInterval time.Duration
}

// rawManifest is the on-disk YAML shape.
type rawManifest struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	PatientID    string `yaml:"patient_id"`
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
	PollInterval string `yaml:"poll_interval"`
}

// DataStream returns the sensor's measurement stream name.
func (m Manifest) DataStream() string {
	return events.SensorStream(events.PrefixSensorData, m.ID)
}

// StatusStream returns the sensor's availability stream name.
func (m Manifest) StatusStream() string {
	return events.SensorStream(events.PrefixSensorStatus, m.ID)
}

// TriggerStream returns the sensor's on-demand command stream name.
func (m Manifest) TriggerStream() string {
	return events.SensorStream(events.PrefixSensorTrigger, m.ID)
}

// MetadataEvent builds the announcement event for this sensor.
func (m Manifest) MetadataEvent() events.SensorMetadataEvent {
	return events.SensorMetadataEvent{
		Header:       events.NewHeader(),
		SensorID:     m.ID,
		SensorName:   m.Name,
		SensorType:   m.Type,
		PatientID:    m.PatientID,
		Manufacturer: m.Manufacturer,
		Model:        m.Model,
	}
}

// Repository holds the manifests loaded from one directory. Manifests
// are loaded eagerly and cached; there is no hot reload.
type Repository struct {
	dir       string
	manifests map[string]Manifest // keyed by ID
}

// NewRepository loads all manifests from dir. A missing directory is
// valid and yields zero sensors; a malformed manifest is a startup
// error.
func NewRepository(dir string) (*Repository, error) {
	repo := &Repository{
		dir:       dir,
		manifests: make(map[string]Manifest),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *Repository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil // no manifest directory means zero sensors provisioned
	}
	if err != nil {
		return fmt.Errorf("sensor manifest dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("sensor manifest path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading sensor manifest dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading sensor manifest %s: %w", path, err)
		}

		var raw rawManifest
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing sensor manifest %s: %w", path, err)
		}
		if raw.ID == "" {
			continue // skip empty / comment-only files
		}

		if raw.Name == "" {
			return fmt.Errorf("sensor %q: name must not be empty", raw.ID)
		}
		if raw.Type == "" {
			return fmt.Errorf("sensor %q: type must not be empty", raw.ID)
		}

		interval := DefaultPollInterval
		if raw.PollInterval != "" {
			interval, err = time.ParseDuration(raw.PollInterval)
			if err != nil {
				return fmt.Errorf("sensor %q: invalid poll_interval: %w", raw.ID, err)
			}
			if interval <= 0 {
				return fmt.Errorf("sensor %q: poll_interval must be positive", raw.ID)
			}
		}

		if _, exists := r.manifests[raw.ID]; exists {
			return fmt.Errorf("sensor %q: duplicate sensor ID (check multiple YAML files)", raw.ID)
		}

		r.manifests[raw.ID] = Manifest{
			ID:           raw.ID,
			Name:         raw.Name,
			Type:         raw.Type,
			PatientID:    raw.PatientID,
			Manufacturer: raw.Manufacturer,
			Model:        raw.Model,
			PollInterval: interval,
		}
	}
	return nil
}

// Get returns the manifest for a sensor ID.
func (r *Repository) Get(id string) (Manifest, bool) {
	m, ok := r.manifests[id]
	return m, ok
}

// List returns all manifests sorted by sensor ID.
func (r *Repository) List() []Manifest {
	out := make([]Manifest, 0, len(r.manifests))
	for _, m := range r.manifests {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded manifests.
func (r *Repository) Count() int {
	return len(r.manifests)
}
