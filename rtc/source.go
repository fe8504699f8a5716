// SPDX-License-Identifier: MIT

package rtc

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

// Static errors for err113 compliance.
var (
	ErrNoWriter = errors.New("no sample writer attached")
)

// MediaSource produces encoded media samples and hands them to a writer,
// typically TrackLocalStaticSample.WriteSample.
type MediaSource interface {
	SetTargetBitrate(int)
	SetWriter(func(sample media.Sample) error)
	Start(ctx context.Context) error
}

// SyntheticVideoSource emulates an encoder without touching a camera or a
// codec. Every frame interval it emits a payload sized to match the current
// target bitrate, with a small random jitter, prefixed by a minimal VP8
// payload descriptor so downstream IVF capture keeps working.
type SyntheticVideoSource struct {
	mu            sync.Mutex
	writer        func(media.Sample) error
	targetBitrate int

	fps              int
	keyFrameInterval int
	rnd              *rand.Rand
}

// NewSyntheticVideoSource creates a video source running at the given frame
// rate and initial bitrate.
func NewSyntheticVideoSource(fps, initialBitrate int) *SyntheticVideoSource {
	return &SyntheticVideoSource{
		targetBitrate:    initialBitrate,
		fps:              fps,
		keyFrameInterval: 2 * fps, // a keyframe every two seconds
		rnd:              rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
	}
}

// SetTargetBitrate updates the bitrate the source paces itself to.
func (s *SyntheticVideoSource) SetTargetBitrate(bitrate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bitrate > 0 {
		s.targetBitrate = bitrate
	}
}

// SetWriter attaches the sample sink.
func (s *SyntheticVideoSource) SetWriter(writer func(media.Sample) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = writer
}

// Start emits frames until the context is canceled.
func (s *SyntheticVideoSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()

		return ErrNoWriter
	}
	s.mu.Unlock()

	frameDuration := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	frameCount := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			keyFrame := frameCount%s.keyFrameInterval == 0
			frameCount++

			s.mu.Lock()
			writer := s.writer
			payload := s.nextFrame(keyFrame)
			s.mu.Unlock()

			if err := writer(media.Sample{
				Data:     payload,
				Duration: frameDuration,
			}); err != nil {
				return err
			}
		}
	}
}

// nextFrame builds a single synthetic frame. Callers must hold s.mu.
func (s *SyntheticVideoSource) nextFrame(keyFrame bool) []byte {
	size := s.targetBitrate / 8 / s.fps
	if keyFrame {
		size *= 2 // keyframes are larger than deltas
	}
	// +-10% jitter, like a real encoder's output
	jitter := float64(size) * 0.1 * (2*s.rnd.Float64() - 1)
	size += int(jitter)
	if size < 3 {
		size = 3
	}

	payload := make([]byte, size)
	s.rnd.Read(payload)
	// VP8 payload descriptor: start of partition, no extensions.
	payload[0] = 0x10
	// VP8 payload header: the low bit of the first octet is the inverse
	// keyframe flag.
	if keyFrame {
		payload[1] &= 0xFE
	} else {
		payload[1] |= 0x01
	}

	return payload
}

// SyntheticAudioSource emits fixed-duration audio samples, standing in for
// an Opus encoder fed by a microphone.
type SyntheticAudioSource struct {
	mu            sync.Mutex
	writer        func(media.Sample) error
	targetBitrate int

	frameDuration time.Duration
}

// NewSyntheticAudioSource creates an audio source emitting 20ms samples at
// the given bitrate.
func NewSyntheticAudioSource(bitrate int) *SyntheticAudioSource {
	return &SyntheticAudioSource{
		targetBitrate: bitrate,
		frameDuration: 20 * time.Millisecond,
	}
}

// SetTargetBitrate updates the audio bitrate.
func (s *SyntheticAudioSource) SetTargetBitrate(bitrate int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bitrate > 0 {
		s.targetBitrate = bitrate
	}
}

// SetWriter attaches the sample sink.
func (s *SyntheticAudioSource) SetWriter(writer func(media.Sample) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writer = writer
}

// Start emits samples until the context is canceled.
func (s *SyntheticAudioSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.writer == nil {
		s.mu.Unlock()

		return ErrNoWriter
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			writer := s.writer
			size := s.targetBitrate / 8 * int(s.frameDuration.Milliseconds()) / 1000
			s.mu.Unlock()
			if size < 1 {
				size = 1
			}

			if err := writer(media.Sample{
				Data:     make([]byte, size),
				Duration: s.frameDuration,
			}); err != nil {
				return err
			}
		}
	}
}
