package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/halcyon-labs/edgelink/internal/bus"
)

// entryID is the parsed form of a "<ms>-<seq>" stream entry ID.
type entryID struct {
	ms  int64
	seq int64
}

func (id entryID) String() string {
	return fmt.Sprintf("%d-%d", id.ms, id.seq)
}

func (id entryID) less(other entryID) bool {
	if id.ms != other.ms {
		return id.ms < other.ms
	}
	return id.seq < other.seq
}

func parseEntryID(s string) (entryID, error) {
	ms, seq, ok := strings.Cut(s, "-")
	if !ok {
		return entryID{}, fmt.Errorf("invalid entry id %q", s)
	}
	msN, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid entry id %q", s)
	}
	seqN, err := strconv.ParseInt(seq, 10, 64)
	if err != nil {
		return entryID{}, fmt.Errorf("invalid entry id %q", s)
	}
	return entryID{ms: msN, seq: seqN}, nil
}

type memPending struct {
	id          entryID
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

type memGroup struct {
	cursor    entryID
	pending   map[entryID]*memPending
	consumers map[string]struct{}
}

type memStream struct {
	ids     []entryID
	entries []bus.Entry
	lastID  entryID
	groups  map[string]*memGroup
	notify  chan struct{}
}

// Memory is an in-memory bus.StreamStore with real consumer-group
// semantics: durable cursors, pending sets with delivery counts and idle
// times, and claim transfer. It backs the memory store mode and the
// hermetic bus tests.
type Memory struct {
	mu      sync.Mutex
	streams map[string]*memStream
	closed  bool

	now func() time.Time // overridable in tests
}

// NewMemory creates an empty in-memory stream store.
func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string]*memStream),
		now:     time.Now,
	}
}

func (m *Memory) streamLocked(name string) *memStream {
	s, ok := m.streams[name]
	if !ok {
		s = &memStream{
			groups: make(map[string]*memGroup),
			notify: make(chan struct{}),
		}
		m.streams[name] = s
	}
	return s
}

func (m *Memory) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("store closed")
	}

	s := m.streamLocked(stream)

	id := entryID{ms: m.now().UnixMilli()}
	if !s.lastID.less(id) {
		id = entryID{ms: s.lastID.ms, seq: s.lastID.seq + 1}
	}

	stored := make(map[string]string, len(fields))
	for k, v := range fields {
		stored[k] = v
	}

	s.ids = append(s.ids, id)
	s.entries = append(s.entries, bus.Entry{ID: id.String(), Stream: stream, Fields: stored})
	s.lastID = id

	if maxLen > 0 {
		s.trimLocked(maxLen)
	}

	// Wake blocked group readers.
	close(s.notify)
	s.notify = make(chan struct{})

	return id.String(), nil
}

func (m *Memory) EnsureGroup(ctx context.Context, stream, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store closed")
	}

	s := m.streamLocked(stream)
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = &memGroup{
			pending:   make(map[entryID]*memPending),
			consumers: make(map[string]struct{}),
		}
	}
	return nil
}

func (m *Memory) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]bus.Entry, error) {
	deadline := time.Now().Add(block)

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, fmt.Errorf("store closed")
		}
		s, ok := m.streams[stream]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("NOGROUP no group %q for stream %q", group, stream)
		}
		g, ok := s.groups[group]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("NOGROUP no group %q for stream %q", group, stream)
		}
		g.consumers[consumer] = struct{}{}

		entries := m.deliverNewLocked(s, g, consumer, count)
		notify := s.notify
		m.mu.Unlock()

		if len(entries) > 0 {
			return entries, nil
		}
		if block <= 0 {
			return nil, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-notify:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

func (m *Memory) deliverNewLocked(s *memStream, g *memGroup, consumer string, count int64) []bus.Entry {
	start := sort.Search(len(s.ids), func(i int) bool { return g.cursor.less(s.ids[i]) })

	var out []bus.Entry
	now := m.now()
	for i := start; i < len(s.ids) && int64(len(out)) < count; i++ {
		id := s.ids[i]
		g.cursor = id
		g.pending[id] = &memPending{id: id, consumer: consumer, deliveredAt: now, deliveries: 1}
		out = append(out, copyEntry(s.entries[i]))
	}
	return out
}

func (m *Memory) Ack(ctx context.Context, stream, group string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}

	for _, raw := range ids {
		id, err := parseEntryID(raw)
		if err != nil {
			return err
		}
		delete(g.pending, id)
	}
	return nil
}

func (m *Memory) Pending(ctx context.Context, stream, group string, limit int64) ([]bus.PendingEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		return nil, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	pending := make([]*memPending, 0, len(g.pending))
	for _, p := range g.pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].id.less(pending[j].id) })

	now := m.now()
	out := make([]bus.PendingEntry, 0, len(pending))
	for _, p := range pending {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		out = append(out, bus.PendingEntry{
			ID:         p.id.String(),
			Consumer:   p.consumer,
			Idle:       now.Sub(p.deliveredAt),
			Deliveries: p.deliveries,
		})
	}
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]bus.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		return nil, nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil, nil
	}

	now := m.now()
	var out []bus.Entry
	for _, raw := range ids {
		id, err := parseEntryID(raw)
		if err != nil {
			return nil, err
		}
		p, ok := g.pending[id]
		if !ok {
			continue
		}
		if now.Sub(p.deliveredAt) < minIdle {
			continue
		}

		entry, found := s.entryLocked(id)
		if !found {
			// Entry was trimmed away; drop the stale pending reference.
			delete(g.pending, id)
			continue
		}

		p.consumer = consumer
		p.deliveredAt = now
		p.deliveries++
		g.consumers[consumer] = struct{}{}
		out = append(out, copyEntry(entry))
	}
	return out, nil
}

func (m *Memory) Groups(ctx context.Context, stream string) ([]bus.GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		return nil, nil
	}

	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]bus.GroupInfo, 0, len(names))
	for _, name := range names {
		g := s.groups[name]
		out = append(out, bus.GroupInfo{
			Name:            name,
			Consumers:       int64(len(g.consumers)),
			Pending:         int64(len(g.pending)),
			LastDeliveredID: g.cursor.String(),
		})
	}
	return out, nil
}

func (m *Memory) Info(ctx context.Context, stream string) (bus.StreamInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[stream]
	if !ok {
		return bus.StreamInfo{Name: stream}, nil
	}
	return bus.StreamInfo{
		Name:   stream,
		Length: int64(len(s.entries)),
		LastID: s.lastID.String(),
	}, nil
}

func (m *Memory) Trim(ctx context.Context, stream string, maxLen int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.streams[stream]; ok {
		s.trimLocked(maxLen)
	}
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("store closed")
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	// Release any blocked readers.
	for _, s := range m.streams {
		close(s.notify)
		s.notify = make(chan struct{})
	}
	return nil
}

func (s *memStream) trimLocked(maxLen int64) {
	if maxLen < 0 {
		maxLen = 0
	}
	excess := int64(len(s.entries)) - maxLen
	if excess <= 0 {
		return
	}
	s.ids = append([]entryID(nil), s.ids[excess:]...)
	s.entries = append([]bus.Entry(nil), s.entries[excess:]...)
}

func (s *memStream) entryLocked(id entryID) (bus.Entry, bool) {
	i := sort.Search(len(s.ids), func(i int) bool { return !s.ids[i].less(id) })
	if i < len(s.ids) && s.ids[i] == id {
		return s.entries[i], true
	}
	return bus.Entry{}, false
}

func copyEntry(e bus.Entry) bus.Entry {
	fields := make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		fields[k] = v
	}
	return bus.Entry{ID: e.ID, Stream: e.Stream, Fields: fields}
}
