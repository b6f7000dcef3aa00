package session

import "testing"

func sample(ts float64) Sample {
	return Sample{Timestamp: ts, Expressions: map[string]float64{"neutral": 1}}
}

func TestSampleBuffer(t *testing.T) {
	t.Parallel()

	t.Run("eviction keeps the most recent capacity samples", func(t *testing.T) {
		t.Parallel()
		b := NewSampleBuffer(1000)
		for i := 1; i <= 1005; i++ {
			b.Append(sample(float64(i)))
		}

		got := b.Snapshot()
		if len(got) != 1000 {
			t.Fatalf("want 1000 samples, got %d", len(got))
		}
		if got[0].Timestamp != 6 {
			t.Fatalf("want oldest surviving sample #6, got #%v", got[0].Timestamp)
		}
		if got[len(got)-1].Timestamp != 1005 {
			t.Fatalf("want newest sample #1005, got #%v", got[len(got)-1].Timestamp)
		}
	})

	t.Run("append reports evictions", func(t *testing.T) {
		t.Parallel()
		b := NewSampleBuffer(2)
		if n := b.Append(sample(1)); n != 0 {
			t.Fatalf("want 0 evicted, got %d", n)
		}
		if n := b.Append(sample(2)); n != 0 {
			t.Fatalf("want 0 evicted, got %d", n)
		}
		if n := b.Append(sample(3)); n != 1 {
			t.Fatalf("want 1 evicted, got %d", n)
		}
		if b.Len() != 2 {
			t.Fatalf("want len 2, got %d", b.Len())
		}
	})

	t.Run("snapshot is decoupled from later appends", func(t *testing.T) {
		t.Parallel()
		b := NewSampleBuffer(10)
		b.Append(sample(1))
		b.Append(sample(2))

		snap := b.Snapshot()
		b.Append(sample(3))

		if len(snap) != 2 {
			t.Fatalf("snapshot mutated by later append: len %d", len(snap))
		}
		if b.Len() != 3 {
			t.Fatalf("want live len 3, got %d", b.Len())
		}
	})

	t.Run("non-positive capacity selects the default", func(t *testing.T) {
		t.Parallel()
		b := NewSampleBuffer(0)
		if b.capacity != DefaultBufferCapacity {
			t.Fatalf("want default capacity %d, got %d", DefaultBufferCapacity, b.capacity)
		}
	})
}
