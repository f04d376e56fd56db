package history

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// tick returns baseTime advanced by n minutes.
func tick(n int) time.Time { return baseTime.Add(time.Duration(n) * time.Minute) }

func plain(capacity int) *Store {
	return New(Options{MaxSamples: capacity, DedupSpacing: 30 * time.Second})
}

func TestMerge_AppendsWithDelta(t *testing.T) {
	s := plain(10)

	o := s.Merge(1000, tick(0))
	assert.Equal(t, Appended, o.Kind)
	assert.Equal(t, int64(0), o.Sample.Delta)

	o = s.Merge(1012, tick(10))
	assert.Equal(t, Appended, o.Kind)
	assert.Equal(t, int64(12), o.Sample.Delta)

	o = s.Merge(1005, tick(20))
	assert.Equal(t, int64(-7), o.Sample.Delta)

	snap := s.Snapshot()
	require.Len(t, snap, 3)
	for i := 1; i < len(snap); i++ {
		assert.Equal(t, snap[i].Value-snap[i-1].Value, snap[i].Delta)
	}
}

func TestMerge_KeepsSeriesSorted(t *testing.T) {
	s := plain(100)
	for i, m := range []int{0, 5, 3, 9, 9, 12, 1, 20} {
		s.Merge(int64(1000+i), tick(m))
	}
	snap := s.Snapshot()
	assert.True(t, sort.SliceIsSorted(snap, func(i, j int) bool {
		return snap[i].ObservedAt.Before(snap[j].ObservedAt)
	}))
}

func TestMerge_OutOfOrderIgnored(t *testing.T) {
	s := plain(10)
	s.Merge(1000, tick(10))
	o := s.Merge(1100, tick(5))
	assert.Equal(t, Ignored, o.Kind)
	assert.Equal(t, ReasonOutOfOrder, o.Reason)
	assert.Equal(t, 1, s.Len())
}

func TestMerge_DuplicateInsideSpacing(t *testing.T) {
	s := plain(10)
	s.Merge(1500, baseTime)

	o := s.Merge(1500, baseTime.Add(10*time.Second))
	assert.Equal(t, Ignored, o.Kind)
	assert.Equal(t, ReasonDuplicate, o.Reason)
	assert.Equal(t, 1, s.Len())
}

func TestMerge_EqualValueAfterSpacingIsFlatPoint(t *testing.T) {
	s := plain(10)
	s.Merge(1500, baseTime)

	o := s.Merge(1500, baseTime.Add(31*time.Second))
	assert.Equal(t, Appended, o.Kind)
	assert.Equal(t, int64(0), o.Sample.Delta)
	assert.Equal(t, 2, s.Len())
}

func TestMerge_ChangedValueInsideSpacingAppends(t *testing.T) {
	s := plain(10)
	s.Merge(1500, baseTime)
	o := s.Merge(1501, baseTime.Add(time.Second))
	assert.Equal(t, Appended, o.Kind)
}

func TestMerge_CapEvictsOldest(t *testing.T) {
	s := plain(5)
	for i := range 7 {
		s.Merge(int64(1000+i), tick(i))
	}

	snap := s.Snapshot()
	require.Len(t, snap, 5)
	assert.Equal(t, int64(1002), snap[0].Value)
	assert.Equal(t, int64(1006), snap[4].Value)
	assert.Equal(t, uint64(2), s.Evicted())
}

func TestATH_SurvivesEviction(t *testing.T) {
	s := plain(3)
	s.Merge(5000, tick(0))
	prev := s.ATH()
	for i := 1; i <= 10; i++ {
		s.Merge(int64(1000+i), tick(i))
		assert.GreaterOrEqual(t, s.ATH(), prev)
		prev = s.ATH()
	}
	assert.Equal(t, int64(5000), s.ATH())
	for _, smp := range s.Snapshot() {
		assert.NotEqual(t, int64(5000), smp.Value)
	}
}

func TestSeed_IsSyntheticAndLeavesATH(t *testing.T) {
	s := New(Options{MaxSamples: 100, BaselinePoints: 25, BaselineStep: time.Hour})
	s.Seed(1500, baseTime)

	snap := s.Snapshot()
	require.Len(t, snap, 25)
	assert.Equal(t, baseTime.Add(-24*time.Hour), snap[0].ObservedAt)
	assert.Equal(t, baseTime, snap[24].ObservedAt)
	for _, smp := range snap {
		assert.True(t, smp.Synthetic)
		assert.Equal(t, int64(1500), smp.Value)
		assert.Zero(t, smp.Delta)
	}
	assert.Zero(t, s.ATH())
	assert.True(t, s.Armed())
}

func TestMerge_ReseedOnFirstSync(t *testing.T) {
	s := New(Options{MaxSamples: 100, BaselinePoints: 5, BaselineStep: time.Hour, ReseedOnFirstSync: true})
	s.Seed(1500, baseTime)

	o := s.Merge(1620, tick(1))
	assert.Equal(t, Reseeded, o.Kind)
	assert.False(t, o.Sample.Synthetic)
	assert.Equal(t, int64(1620), o.Sample.Value)

	snap := s.Snapshot()
	require.Len(t, snap, 5)
	for _, smp := range snap {
		assert.Equal(t, int64(1620), smp.Value)
	}
	assert.Equal(t, int64(1620), s.ATH())
	assert.False(t, s.Armed())

	// Only once per seed.
	o = s.Merge(1630, tick(2))
	assert.Equal(t, Appended, o.Kind)
	assert.Equal(t, int64(10), o.Sample.Delta)
}

func TestSnapshot_IsCopy(t *testing.T) {
	s := plain(10)
	s.Merge(1000, tick(0))
	snap := s.Snapshot()
	snap[0].Value = 1

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, int64(1000), last.Value)
}

func TestLast_Empty(t *testing.T) {
	_, ok := plain(10).Last()
	assert.False(t, ok)
}

func TestStore_ConcurrentReaders(t *testing.T) {
	s := plain(50)
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = s.Snapshot()
				_ = s.ATH()
				_, _ = s.Last()
			}
		}()
	}
	for i := range 200 {
		s.Merge(int64(1000+i), tick(i))
	}
	wg.Wait()
	assert.Equal(t, 50, s.Len())
}
