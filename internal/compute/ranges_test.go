package compute

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holderwatch/holderwatch/pkg/types"
)

func TestParseRange(t *testing.T) {
	for _, r := range Ranges {
		got, err := ParseRange(r.Name)
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}

	_, err := ParseRange("3d")
	assert.True(t, errors.Is(err, ErrUnknownRange))
}

func TestFilter_24hIsSuffix(t *testing.T) {
	var h []types.Sample
	for i := range 48 {
		h = append(h, smp(time.Duration(i)*time.Hour, int64(1000+i)))
	}
	now := at(47 * time.Hour)

	v := Filter(h, Range24h, now)
	require.Equal(t, StatusOK, v.Status)
	require.NotNil(t, v.Cutoff)

	cutoff := now.Add(-24 * time.Hour)
	assert.Equal(t, cutoff, *v.Cutoff)
	// Samples at hours 23..47 inclusive.
	require.Len(t, v.Samples, 25)
	assert.Equal(t, h[len(h)-len(v.Samples):], v.Samples)
	for _, s := range v.Samples {
		assert.False(t, s.ObservedAt.Before(cutoff))
	}
}

func TestFilter_AllIsUnmodified(t *testing.T) {
	h := series(smp(0, 1), smp(time.Hour, 2), smp(100*time.Hour, 3))
	v := Filter(h, RangeAll, at(1000*time.Hour))
	assert.Equal(t, StatusOK, v.Status)
	assert.Nil(t, v.Cutoff)
	assert.Equal(t, h, v.Samples)

	empty := Filter(nil, RangeAll, baseTime)
	assert.NotNil(t, empty.Samples)
	assert.Empty(t, empty.Samples)
}

func TestFilter_Insufficient(t *testing.T) {
	h := series(smp(0, 100), smp(time.Hour, 110), smp(2*time.Hour, 120))

	v := Filter(h, Range10m, at(2*time.Hour))
	assert.Equal(t, StatusInsufficient, v.Status)
	assert.Empty(t, v.Samples)
	assert.NotNil(t, v.Samples)

	v = Filter(nil, Range1h, baseTime)
	assert.Equal(t, StatusInsufficient, v.Status)
}

func TestFilter_WallClockCutoff(t *testing.T) {
	// The producer stopped two hours ago; a 1h view is empty even though
	// the last hour of data exists relative to the newest sample.
	h := series(smp(0, 100), smp(30*time.Minute, 110), smp(time.Hour, 120))
	v := Filter(h, Range1h, at(3*time.Hour))
	assert.Equal(t, StatusInsufficient, v.Status)
}
