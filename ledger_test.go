package diagnostics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var ledgerEpoch = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func TestMemoryLedgerOrdersOutOfOrderAppends(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	// Arrival order is deliberately shuffled relative to timestamp order.
	for _, sec := range []int{3, 0, 4, 1, 2} {
		r := Reading{Value: float64(sec), Timestamp: ledgerEpoch.Add(time.Duration(sec) * time.Second)}
		if err := l.Append(ctx, "temp_1", r); err != nil {
			t.Fatal("Append", err)
		}
	}

	seq, err := l.Window(ctx, "temp_1", ledgerEpoch, ledgerEpoch.Add(time.Minute))
	if err != nil {
		t.Fatal("Window", err)
	}
	var got []float64
	for r := range seq {
		got = append(got, r.Value)
	}
	if diff := cmp.Diff([]float64{0, 1, 2, 3, 4}, got); diff != "" {
		t.Error("Window order differs:", diff)
	}
}

func TestMemoryLedgerWindowIsHalfOpen(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	for sec := 0; sec < 5; sec++ {
		r := Reading{Value: float64(sec), Timestamp: ledgerEpoch.Add(time.Duration(sec) * time.Second)}
		if err := l.Append(ctx, "temp_1", r); err != nil {
			t.Fatal("Append", err)
		}
	}

	// [1s, 3s) includes the reading at 1s and excludes the one at 3s.
	seq, err := l.Window(ctx, "temp_1", ledgerEpoch.Add(time.Second), ledgerEpoch.Add(3*time.Second))
	if err != nil {
		t.Fatal("Window", err)
	}
	var got []float64
	for r := range seq {
		got = append(got, r.Value)
	}
	if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
		t.Error("Half-open window differs:", diff)
	}
}

func TestMemoryLedgerSnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	for sec := 0; sec < 3; sec++ {
		r := Reading{Value: float64(sec), Timestamp: ledgerEpoch.Add(time.Duration(sec) * time.Second)}
		if err := l.Append(ctx, "temp_1", r); err != nil {
			t.Fatal("Append", err)
		}
	}

	seq, err := l.Window(ctx, "temp_1", ledgerEpoch, ledgerEpoch.Add(time.Minute))
	if err != nil {
		t.Fatal("Window", err)
	}

	// An append that lands inside the queried window must not appear in the
	// already-obtained sequence, only in the next query.
	mid := Reading{Value: 99, Timestamp: ledgerEpoch.Add(1500 * time.Millisecond)}
	if err := l.Append(ctx, "temp_1", mid); err != nil {
		t.Fatal("Append(mid)", err)
	}

	var got []float64
	for r := range seq {
		got = append(got, r.Value)
	}
	if diff := cmp.Diff([]float64{0, 1, 2}, got); diff != "" {
		t.Error("Snapshot saw a concurrent append:", diff)
	}

	seq, err = l.Window(ctx, "temp_1", ledgerEpoch, ledgerEpoch.Add(time.Minute))
	if err != nil {
		t.Fatal("Window", err)
	}
	got = got[:0]
	for r := range seq {
		got = append(got, r.Value)
	}
	if diff := cmp.Diff([]float64{0, 1, 99, 2}, got); diff != "" {
		t.Error("Next query misses the appended reading:", diff)
	}
}

func TestMemoryLedgerLatest(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if _, err := l.Latest(ctx, "temp_1"); !errors.Is(err, ErrNoData) {
		t.Errorf("Latest(empty) = %v, want ErrNoData", err)
	}

	early := Reading{Value: 1, Timestamp: ledgerEpoch}
	late := Reading{Value: 2, Timestamp: ledgerEpoch.Add(time.Minute)}
	// Append the later reading first; Latest must still follow timestamps.
	if err := l.Append(ctx, "temp_1", late); err != nil {
		t.Fatal("Append(late)", err)
	}
	if err := l.Append(ctx, "temp_1", early); err != nil {
		t.Fatal("Append(early)", err)
	}

	got, err := l.Latest(ctx, "temp_1")
	if err != nil {
		t.Fatal("Latest", err)
	}
	if got.Value != late.Value {
		t.Errorf("Latest = %v, want %v", got, late)
	}
}

func TestMemoryLedgerVersionAdvances(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	v0, err := l.Version(ctx, "temp_1")
	if err != nil {
		t.Fatal("Version", err)
	}
	if v0 != 0 {
		t.Errorf("Version before any append = %d, want 0", v0)
	}
	if err := l.Append(ctx, "temp_1", Reading{Value: 1, Timestamp: ledgerEpoch}); err != nil {
		t.Fatal("Append", err)
	}
	v1, err := l.Version(ctx, "temp_1")
	if err != nil {
		t.Fatal("Version", err)
	}
	if v1 <= v0 {
		t.Errorf("Version after append = %d, want > %d", v1, v0)
	}
}

func TestMemoryLedgerVersionIsPerEntity(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	if err := l.Append(ctx, "temp_1", Reading{Value: 1, Timestamp: ledgerEpoch}); err != nil {
		t.Fatal("Append", err)
	}
	before, err := l.Version(ctx, "temp_1")
	if err != nil {
		t.Fatal("Version", err)
	}

	// A feed for an unrelated entity must leave temp_1's counter untouched,
	// otherwise every new reading would invalidate every cached snapshot.
	if err := l.Append(ctx, "temp_2", Reading{Value: 2, Timestamp: ledgerEpoch}); err != nil {
		t.Fatal("Append", err)
	}
	after, err := l.Version(ctx, "temp_1")
	if err != nil {
		t.Fatal("Version", err)
	}
	if after != before {
		t.Errorf("Version of temp_1 after append to temp_2 = %d, want %d", after, before)
	}

	v2, err := l.Version(ctx, "temp_2")
	if err != nil {
		t.Fatal("Version", err)
	}
	if v2 != 1 {
		t.Errorf("Version of temp_2 = %d, want 1", v2)
	}
}

func TestMemoryLedgerConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()

	const perEntity = 100
	entities := []EntityID{"temp_1", "temp_2", "temp_3", "temp_4"}

	done := make(chan error, len(entities))
	for _, id := range entities {
		go func() {
			for i := 0; i < perEntity; i++ {
				r := Reading{Value: float64(i), Timestamp: ledgerEpoch.Add(time.Duration(i) * time.Millisecond)}
				if err := l.Append(ctx, id, r); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for range entities {
		if err := <-done; err != nil {
			t.Fatal("concurrent Append", err)
		}
	}

	for _, id := range entities {
		seq, err := l.Window(ctx, id, ledgerEpoch, ledgerEpoch.Add(time.Minute))
		if err != nil {
			t.Fatal("Window", err)
		}
		var count int
		last := time.Time{}
		for r := range seq {
			if r.Timestamp.Before(last) {
				t.Fatalf("entity %s: window out of order at %v", id, r.Timestamp)
			}
			last = r.Timestamp
			count++
		}
		if count != perEntity {
			t.Errorf("entity %s: %d readings, want %d", id, count, perEntity)
		}
	}
}
