package bus

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultDedupWindow is how long a payload fingerprint suppresses repeats.
const DefaultDedupWindow = time.Hour

// Fingerprint returns a deterministic hash of the canonicalized payload.
// ConfigStd sorts map keys during marshalling, so payloads that differ only
// in field order hash identically.
func Fingerprint(payload map[string]string) (string, error) {
	raw, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

type dedupEntry struct {
	fingerprint string
	seenAt      time.Time
}

// scopeWindow is the sliding window for one scope: an ordered expiry queue
// plus a fingerprint lookup map. Duplicates do not refresh their timestamp,
// so the queue front is always the oldest live entry.
type scopeWindow struct {
	queue []dedupEntry
	seen  map[string]time.Time
}

// Deduplicator rejects repeat payloads per scope within a sliding time
// window. Expired entries are purged lazily on the next check for the scope.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	scopes map[string]*scopeWindow

	now func() time.Time // overridable in tests
}

// NewDeduplicator creates a deduplicator with the given window. A
// non-positive window falls back to DefaultDedupWindow.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduplicator{
		window: window,
		scopes: make(map[string]*scopeWindow),
		now:    time.Now,
	}
}

// IsDuplicate reports whether an identical payload was already recorded for
// scope within the window, recording the payload when it is new.
func (d *Deduplicator) IsDuplicate(scope string, payload map[string]string) bool {
	fp, err := Fingerprint(payload)
	if err != nil {
		slog.Warn("[Dedup] Failed to fingerprint payload", "scope", scope, "error", err)
		return false
	}
	return d.isDuplicateFingerprint(scope, fp)
}

func (d *Deduplicator) isDuplicateFingerprint(scope, fp string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	sw := d.scopes[scope]
	if sw == nil {
		sw = &scopeWindow{seen: make(map[string]time.Time)}
		d.scopes[scope] = sw
	}

	// Evict everything that aged out of the window from the queue front.
	for len(sw.queue) > 0 && now.Sub(sw.queue[0].seenAt) >= d.window {
		delete(sw.seen, sw.queue[0].fingerprint)
		sw.queue = sw.queue[1:]
	}

	if _, ok := sw.seen[fp]; ok {
		return true
	}
	sw.seen[fp] = now
	sw.queue = append(sw.queue, dedupEntry{fingerprint: fp, seenAt: now})
	return false
}
