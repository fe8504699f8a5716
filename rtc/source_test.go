// SPDX-License-Identifier: MIT

package rtc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleCollector struct {
	mu      sync.Mutex
	samples []media.Sample
}

func (c *sampleCollector) write(sample media.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, sample)

	return nil
}

func (c *sampleCollector) collected() []media.Sample {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]media.Sample(nil), c.samples...)
}

func TestSyntheticVideoSourceRequiresWriter(t *testing.T) {
	source := NewSyntheticVideoSource(videoFPS, initialBitrate)

	err := source.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoWriter)
}

func TestSyntheticVideoSourceEmitsFrames(t *testing.T) {
	source := NewSyntheticVideoSource(50, 400_000)
	collector := &sampleCollector{}
	source.SetWriter(collector.write)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, source.Start(ctx))

	samples := collector.collected()
	require.NotEmpty(t, samples)

	// The first frame of a sequence is a keyframe: inverse keyframe flag
	// cleared in the VP8 payload header.
	first := samples[0]
	require.GreaterOrEqual(t, len(first.Data), 3)
	assert.Equal(t, byte(0x10), first.Data[0])
	assert.Zero(t, first.Data[1]&0x01)

	for _, sample := range samples {
		assert.Equal(t, time.Second/50, sample.Duration)
	}
}

func TestSyntheticVideoSourceTracksBitrate(t *testing.T) {
	source := NewSyntheticVideoSource(10, 100_000)
	collector := &sampleCollector{}
	source.SetWriter(collector.write)
	source.SetTargetBitrate(1_000_000)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	require.NoError(t, source.Start(ctx))

	samples := collector.collected()
	require.NotEmpty(t, samples)

	// 1 Mbps at 10 fps is 12500 bytes per delta frame; allow generous
	// bounds for jitter and keyframes.
	for _, sample := range samples {
		assert.Greater(t, len(sample.Data), 10_000)
		assert.Less(t, len(sample.Data), 30_000)
	}
}

func TestSyntheticVideoSourceIgnoresInvalidBitrate(t *testing.T) {
	source := NewSyntheticVideoSource(10, 100_000)
	source.SetTargetBitrate(-1)

	source.mu.Lock()
	defer source.mu.Unlock()
	assert.Equal(t, 100_000, source.targetBitrate)
}

func TestSyntheticAudioSourceEmitsSamples(t *testing.T) {
	source := NewSyntheticAudioSource(audioBitrate)
	collector := &sampleCollector{}
	source.SetWriter(collector.write)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, source.Start(ctx))

	samples := collector.collected()
	require.NotEmpty(t, samples)

	// 32 kbps over 20ms frames is 80 bytes per sample.
	for _, sample := range samples {
		assert.Len(t, sample.Data, 80)
		assert.Equal(t, 20*time.Millisecond, sample.Duration)
	}
}
