package eventlog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mash-protocol/mash-sync/pkg/clock"
	"github.com/mash-protocol/mash-sync/pkg/counter"
	"github.com/mash-protocol/mash-sync/pkg/persistence"
)

// Event log errors.
var (
	ErrEventTooLarge     = errors.New("event larger than its ring buffer")
	ErrFiltered          = errors.New("event below configured importance")
	ErrInvalidImportance = errors.New("invalid importance")
	ErrNoStore           = errors.New("no persistent store configured")
	ErrBudgetTooSmall    = errors.New("budget smaller than next record")
	ErrInvalidBufferSize = errors.New("ring buffer size must be positive")
)

// DefaultBufferSize is the ring size of a level without a configured size.
const DefaultBufferSize = 4096

// Config configures a Log.
type Config struct {
	// BufferSizes is the ring size in bytes per level.
	BufferSizes map[Importance]int

	// Store persists the id counters. Required.
	Store persistence.KVStore

	// KeyPrefix prefixes the counter keys. Defaults to "eventlog".
	KeyPrefix string

	// Epoch is the counter checkpoint interval.
	Epoch uint32

	// Level is the least important level that is logged. Defaults to Info.
	Level Importance

	// Clock stamps events. Defaults to the real clock.
	Clock clock.Clock

	// Logger is the optional logger for debug output.
	Logger *slog.Logger
}

// LevelStats describes one importance level.
type LevelStats struct {
	Importance Importance

	// Logged counts stored events, Evicted those overwritten since.
	Logged  uint64
	Evicted uint64

	// Filtered counts events dropped by the level filter and TooLarge
	// those rejected with ErrEventTooLarge.
	Filtered uint64
	TooLarge uint64

	Entries  int
	Bytes    int
	Capacity int

	// FirstID is the oldest retained id, LastID the last assigned one.
	FirstID EventID
	LastID  EventID
}

// Batch is a run of consecutive records of one level.
type Batch struct {
	Importance Importance

	// Records are encoded records in id order.
	Records [][]byte

	// First and Last are the ids of the first and last record.
	First EventID
	Last  EventID

	// Skipped counts requested ids that were evicted before they could be
	// read.
	Skipped uint32

	// Size is the total length of Records.
	Size int
}

type level struct {
	importance Importance
	ring       *ring
	counter    *counter.Persisted
	stats      LevelStats
}

// Log is the event log. It is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	levels [4]*level
	min    Importance
	clock  clock.Clock
	logger *slog.Logger
}

// New creates a log and restores its id counters from config.Store.
func New(config Config) (*Log, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "eventlog"
	}
	if config.Epoch == 0 {
		config.Epoch = counter.DefaultEpoch
	}
	if config.Level == 0 {
		config.Level = Info
	}
	if !config.Level.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidImportance, config.Level)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	l := &Log{min: config.Level, clock: config.Clock, logger: config.Logger}
	for _, imp := range Importances {
		size := config.BufferSizes[imp]
		if size == 0 {
			size = DefaultBufferSize
		}
		if size < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidBufferSize, imp)
		}
		c, err := counter.New(config.Store, config.KeyPrefix+"/"+imp.String(), config.Epoch, config.Logger)
		if err != nil {
			return nil, fmt.Errorf("eventlog: %s counter: %w", imp, err)
		}
		l.levels[imp-1] = &level{
			importance: imp,
			ring:       newRing(size),
			counter:    c,
			stats:      LevelStats{Importance: imp, Capacity: size},
		}
		l.debugLog("eventlog: level ready", "importance", imp, "buffer", size, "resume_id", c.StartingValue())
	}
	return l, nil
}

func (l *Log) level(imp Importance) (*level, error) {
	if !imp.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidImportance, imp)
	}
	return l.levels[imp-1], nil
}

// LogEvent stores an event and returns its id. The payload is CBOR
// encoded. Events less important than the configured level are dropped
// with ErrFiltered.
func (l *Log) LogEvent(s Schema, payload any) (EventID, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return 0, fmt.Errorf("eventlog: encode payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	lv, err := l.level(s.Importance)
	if err != nil {
		return 0, err
	}
	if s.Importance > l.min {
		lv.stats.Filtered++
		return 0, ErrFiltered
	}

	id := EventID(lv.counter.Value() + 1)
	b, err := EncodeRecord(Record{
		ID:                   id,
		Importance:           s.Importance,
		ProfileID:            s.ProfileID,
		StructureType:        s.StructureType,
		SchemaVersion:        s.SchemaVersion,
		MinCompatibleVersion: s.MinCompatibleVersion,
		Timestamp:            l.clock.Now().UnixMilli(),
		Payload:              raw,
	})
	if err != nil {
		return 0, fmt.Errorf("eventlog: encode record: %w", err)
	}
	if len(b) > lv.ring.capacity() {
		lv.stats.TooLarge++
		return 0, fmt.Errorf("%w: %d bytes, %s buffer %d", ErrEventTooLarge, len(b), s.Importance, lv.ring.capacity())
	}
	if err := lv.counter.Increment(); err != nil {
		return 0, fmt.Errorf("eventlog: assign %s id: %w", s.Importance, err)
	}

	evicted := lv.ring.put(id, b)
	lv.stats.Logged++
	lv.stats.Evicted += uint64(evicted)
	if evicted > 0 {
		l.debugLog("eventlog: evicted oldest events", "importance", s.Importance, "count", evicted)
	}
	return id, nil
}

// SetLevel sets the least important level that is logged.
func (l *Log) SetLevel(imp Importance) error {
	if !imp.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidImportance, imp)
	}
	l.mu.Lock()
	l.min = imp
	l.mu.Unlock()
	return nil
}

// Level returns the configured level.
func (l *Log) Level() Importance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.min
}

// Fetch returns the oldest records of imp with an id of at least from,
// limited to budget bytes. A budget too small for the next record returns
// ErrBudgetTooSmall.
func (l *Log) Fetch(imp Importance, from EventID, budget int) (Batch, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lv, err := l.level(imp)
	if err != nil {
		return Batch{}, err
	}
	b := Batch{Importance: imp}
	r := lv.ring
	i := r.search(from)
	if i == r.len() {
		return b, nil
	}
	if first := r.entries[i].id; i == 0 && first > from && from > 0 {
		b.Skipped = uint32(first - from)
	}

	for ; i < r.len(); i++ {
		s := r.entries[i]
		if b.Size+s.size > budget {
			if len(b.Records) == 0 {
				return b, fmt.Errorf("%w: record %d is %d bytes, budget %d", ErrBudgetTooSmall, s.id, s.size, budget)
			}
			break
		}
		if len(b.Records) == 0 {
			b.First = s.id
		}
		b.Records = append(b.Records, r.read(i))
		b.Last = s.id
		b.Size += s.size
	}
	return b, nil
}

// Pending reports whether imp holds records with an id of at least from.
func (l *Log) Pending(imp Importance, from EventID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lv, err := l.level(imp)
	if err != nil {
		return false
	}
	return lv.ring.search(from) < lv.ring.len()
}

// FirstID returns the oldest retained id of imp.
func (l *Log) FirstID(imp Importance) (EventID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lv, err := l.level(imp)
	if err != nil {
		return 0, false
	}
	return lv.ring.first()
}

// LastID returns the last id assigned at imp. After a restart, and before
// the first new event, it is the id the counter resumed from.
func (l *Log) LastID(imp Importance) EventID {
	l.mu.Lock()
	defer l.mu.Unlock()
	lv, err := l.level(imp)
	if err != nil {
		return 0
	}
	return EventID(lv.counter.Value())
}

// Stats returns the statistics of every level, most important first.
func (l *Log) Stats() []LevelStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LevelStats, 0, len(l.levels))
	for _, lv := range l.levels {
		s := lv.stats
		s.Entries = lv.ring.len()
		s.Bytes = lv.ring.used
		s.FirstID, _ = lv.ring.first()
		s.LastID = EventID(lv.counter.Value())
		out = append(out, s)
	}
	return out
}

// Clear drops every stored event. Ids keep increasing.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, lv := range l.levels {
		lv.stats.Evicted += uint64(lv.ring.len())
		lv.ring.reset()
	}
}

func (l *Log) debugLog(msg string, args ...any) {
	if l.logger != nil {
		l.logger.Debug(msg, args...)
	}
}
