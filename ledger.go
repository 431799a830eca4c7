package diagnostics

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"
)

// ReadingLedger is the time-series store behind the engine. It keeps an
// append-only series of readings per leaf entity and answers half-open window
// queries over them.
//
// The ledger is entity-agnostic: it does not know about the forest and
// accepts readings for any id. The Engine validates that readings are only
// submitted for registered leaf entities before they reach the ledger.
//
// Implementations must provide snapshot isolation: a sequence returned by
// Window never observes readings appended after the call, even when iterated
// concurrently with appends. Appends to the same entity serialise among
// themselves to preserve temporal-order insertion; appends to different
// entities must not contend.
type ReadingLedger interface {
	// Append records one reading for an entity. Readings may arrive out of
	// timestamp order; the ledger maintains chronological order internally.
	Append(ctx context.Context, id EntityID, r Reading) error

	// Window returns the readings of an entity with start <= Timestamp < end,
	// in ascending timestamp order. An entity with no matching readings
	// yields an empty sequence and no error.
	Window(ctx context.Context, id EntityID, start, end time.Time) (iter.Seq[Reading], error)

	// Latest returns the most recent reading of an entity, or ErrNoData if
	// the entity has never reported.
	Latest(ctx context.Context, id EntityID) (Reading, error)

	// Version returns a counter that increases on every successful Append
	// for the given entity, and zero for an entity that has never reported.
	// Callers use it to key caches of values derived from that entity's
	// series; readings arriving for other entities leave it untouched.
	Version(ctx context.Context, id EntityID) (uint64, error)
}

// MemoryLedger is an in-memory ReadingLedger. The zero value is not usable;
// call NewMemoryLedger.
//
// Each entity owns an independent series with its own lock and version
// counter, so feeds for different entities never contend; the ledger-wide
// lock guards only the series map itself. A series is an immutable sorted
// slice replaced wholesale on append: Window captures the slice header under
// the series lock and iterates it without further locking, which gives
// snapshot isolation for free at the cost of a copy per append.
type MemoryLedger struct {
	mu     sync.RWMutex
	series map[EntityID]*entitySeries
}

type entitySeries struct {
	mu       sync.Mutex
	readings []Reading // published snapshot, never mutated in place
	version  uint64
}

// NewMemoryLedger returns an empty, ready-to-use ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{series: make(map[EntityID]*entitySeries)}
}

// lookup returns the series of an entity, creating it first when create is
// set. The nil return (without create) stands for an entity that has never
// reported.
func (l *MemoryLedger) lookup(id EntityID, create bool) *entitySeries {
	l.mu.RLock()
	s := l.series[id]
	l.mu.RUnlock()
	if s != nil || !create {
		return s
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if s = l.series[id]; s == nil {
		s = &entitySeries{}
		l.series[id] = s
	}
	return s
}

func (l *MemoryLedger) Append(_ context.Context, id EntityID, r Reading) error {
	if id == "" {
		return fmt.Errorf("empty entity id: %w", ErrUnknownEntity)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("entity %q: reading without timestamp", id)
	}

	s := l.lookup(id, true)
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.readings
	at, _ := slices.BinarySearchFunc(old, r, cmpReadingTime)
	// Equal timestamps sort after existing entries, so resubmission of the
	// same instant preserves arrival order.
	for at < len(old) && old[at].Timestamp.Equal(r.Timestamp) {
		at++
	}

	// Never mutate the published slice: in-flight Window iterations hold a
	// reference to it.
	next := make([]Reading, 0, len(old)+1)
	next = append(next, old[:at]...)
	next = append(next, r)
	next = append(next, old[at:]...)
	s.readings = next
	s.version++
	return nil
}

func (l *MemoryLedger) Window(_ context.Context, id EntityID, start, end time.Time) (iter.Seq[Reading], error) {
	var snapshot []Reading
	if s := l.lookup(id, false); s != nil {
		s.mu.Lock()
		snapshot = s.readings
		s.mu.Unlock()
	}

	lo, _ := slices.BinarySearchFunc(snapshot, Reading{Timestamp: start}, cmpReadingTime)
	hi, _ := slices.BinarySearchFunc(snapshot, Reading{Timestamp: end}, cmpReadingTime)
	window := snapshot[lo:hi]

	return func(yield func(Reading) bool) {
		for _, r := range window {
			if !yield(r) {
				return
			}
		}
	}, nil
}

func (l *MemoryLedger) Latest(_ context.Context, id EntityID) (Reading, error) {
	s := l.lookup(id, false)
	if s == nil {
		return Reading{}, fmt.Errorf("entity %q: %w", id, ErrNoData)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.readings) == 0 {
		return Reading{}, fmt.Errorf("entity %q: %w", id, ErrNoData)
	}
	return s.readings[len(s.readings)-1], nil
}

func (l *MemoryLedger) Version(_ context.Context, id EntityID) (uint64, error) {
	s := l.lookup(id, false)
	if s == nil {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version, nil
}

func cmpReadingTime(a, b Reading) int {
	return a.Timestamp.Compare(b.Timestamp)
}
