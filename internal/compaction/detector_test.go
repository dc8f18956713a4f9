package compaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetector_DetectsLargeDrop(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Detect(100000))

	ev := d.Detect(60000)
	require.NotNil(t, ev)
	assert.Equal(t, TypeDetected, ev.Type)
	assert.Equal(t, 100000, ev.Before)
	assert.Equal(t, 60000, ev.After)
	assert.Equal(t, 40000, ev.Reduction)
	assert.InDelta(t, 0.4, ev.Rate, 1e-9)
	assert.Equal(t, 60000, d.Baseline())
}

func TestDetector_IgnoresSmallDrops(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
	}{
		{"below rate", []int{100000, 90000}},
		{"below minimum reduction", []int{20000, 12000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector()
			for _, s := range tt.sizes {
				assert.Nil(t, d.Detect(s))
			}
			assert.Equal(t, tt.sizes[0], d.Baseline())
			assert.Empty(t, d.Events())
		})
	}
}

func TestDetector_GrowthRaisesBaseline(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Detect(50000))
	assert.Nil(t, d.Detect(60000))
	assert.Equal(t, 60000, d.Baseline())
	assert.Empty(t, d.Events())
}

func TestDetector_SmallDropsDoNotAccumulate(t *testing.T) {
	d := NewDetector()
	d.Detect(100000)
	for _, s := range []int{90000, 80000, 75000} {
		assert.Nil(t, d.Detect(s))
	}
	assert.Equal(t, 100000, d.Baseline())

	ev := d.Detect(65000)
	require.NotNil(t, ev)
	assert.Equal(t, 100000, ev.Before)
}

func TestDetector_RecordManualReset(t *testing.T) {
	d := NewDetector()
	ev := d.RecordManualReset(50000, 0)
	assert.Equal(t, TypeManual, ev.Type)
	assert.Equal(t, 50000, ev.Reduction)
	assert.Equal(t, 1.0, ev.Rate)
	assert.Equal(t, 0, d.Baseline())

	zero := d.RecordManualReset(0, 0)
	assert.Equal(t, 1.0, zero.Rate)
	assert.Len(t, d.Events(), 2)
}

func TestDetector_Statistics(t *testing.T) {
	d := NewDetector()
	d.Detect(100000)
	d.Detect(50000)
	d.Detect(95000)
	d.Detect(100000)
	d.Detect(50000)

	s := d.Statistics()
	assert.Equal(t, 2, s.TotalCompacts)
	assert.Equal(t, 100000, s.TotalTokensRecovered)
	assert.Equal(t, 50000.0, s.AverageReduction)
	require.NotNil(t, s.LargestCompact)
	assert.Equal(t, 50000, s.LargestCompact.Reduction)
	assert.Equal(t, 2, s.CompactsLast24h)
	assert.Equal(t, 2, s.DetectedLast24h)
}

func TestDetector_StatisticsWindow(t *testing.T) {
	now := time.Now()
	d := NewDetector()
	d.now = func() time.Time { return now.Add(-48 * time.Hour) }
	d.RecordManualReset(30000, 0)

	d.now = func() time.Time { return now }
	d.RecordManualReset(20000, 0)
	d.Detect(100000)
	d.Detect(10000)

	s := d.Statistics()
	assert.Equal(t, 3, s.TotalCompacts)
	assert.Equal(t, 2, s.CompactsLast24h)
	assert.Equal(t, 1, s.DetectedLast24h)
	assert.Equal(t, 90000, s.LargestCompact.Reduction)
}

func TestDetector_Latest(t *testing.T) {
	d := NewDetector()
	assert.Nil(t, d.Latest())
	d.RecordManualReset(1000, 0)
	d.RecordManualReset(2000, 0)
	require.NotNil(t, d.Latest())
	assert.Equal(t, 2000, d.Latest().Before)
}

func TestDetector_HistoryIsBounded(t *testing.T) {
	d := NewDetector()
	for i := 0; i < DefaultHistory+5; i++ {
		d.RecordManualReset(i+1, 0)
	}
	events := d.Events()
	require.Len(t, events, DefaultHistory)
	assert.Equal(t, 6, events[0].Before)
}

func TestDetector_Setters(t *testing.T) {
	d := NewDetector()
	d.SetThreshold(0)
	d.SetThreshold(1.5)
	d.SetMinReduction(-1)
	d.Detect(100000)
	assert.Nil(t, d.Detect(75000))

	d.SetThreshold(0.2)
	assert.NotNil(t, d.Detect(75000))

	d.SetMinReduction(100000)
	d.Detect(200000)
	assert.Nil(t, d.Detect(100000))
}

func TestDetector_Reset(t *testing.T) {
	d := NewDetector()
	d.Detect(100000)
	d.Detect(10000)
	d.Reset()
	assert.Empty(t, d.Events())
	assert.Nil(t, d.Detect(5000))
	assert.Equal(t, 5000, d.Baseline())
}
