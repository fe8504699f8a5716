// SPDX-License-Identifier: MIT

package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
)

// stubOfferSDP is the canned session description the stub engine hands out.
// It mirrors the media sections a real engine would negotiate without ever
// touching the network.
const stubOfferSDP = "v=0\r\n" +
	"o=- 0 0 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
	"a=mid:0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"a=mid:1\r\n"

// Stub is an Engine that performs no media operations. Each step prints the
// library call a real engine would have made, matching the behavior of the
// original demo where the real code path was compiled out.
type Stub struct {
	out         io.Writer
	initialized bool
	log         logging.LeveledLogger
}

// StubOption configures a Stub.
type StubOption func(*Stub) error

// StubOutput redirects the narration output.
func StubOutput(w io.Writer) StubOption {
	return func(s *Stub) error {
		s.out = w

		return nil
	}
}

// StubLoggerFactory sets the logger factory used for diagnostics.
func StubLoggerFactory(f logging.LoggerFactory) StubOption {
	return func(s *Stub) error {
		s.log = f.NewLogger("stub_engine")

		return nil
	}
}

// NewStub creates a stub engine writing its narration to stdout unless
// configured otherwise.
func NewStub(opts ...StubOption) (*Stub, error) {
	stub := &Stub{
		out: os.Stdout,
		log: logging.NewDefaultLoggerFactory().NewLogger("stub_engine"),
	}
	for _, opt := range opts {
		if err := opt(stub); err != nil {
			return nil, err
		}
	}

	return stub, nil
}

func (s *Stub) wouldCall(call string) {
	fmt.Fprintf(s.out, "  (stub) would call: %s\n", call)
}

// CreatePeerConnection marks the engine as initialized.
func (s *Stub) CreatePeerConnection() error {
	s.wouldCall("webrtc.NewAPI(...).NewPeerConnection(config)")
	s.initialized = true

	return nil
}

// AddVideoStream narrates adding a local video track.
func (s *Stub) AddVideoStream() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.wouldCall(`webrtc.NewTrackLocalStaticSample(VP8, "video", "stream_id")`)
	s.wouldCall("peerConnection.AddTrack(videoTrack)")

	return nil
}

// AddAudioStream narrates adding a local audio track.
func (s *Stub) AddAudioStream() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.wouldCall(`webrtc.NewTrackLocalStaticSample(Opus, "audio", "stream_id")`)
	s.wouldCall("peerConnection.AddTrack(audioTrack)")

	return nil
}

// StartVideoCapture narrates starting a capture device.
func (s *Stub) StartVideoCapture() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.wouldCall(`videoSource.Start(ctx)`)

	return nil
}

// CreateOffer returns a canned offer without gathering any candidates.
func (s *Stub) CreateOffer() (*webrtc.SessionDescription, error) {
	if !s.initialized {
		return nil, ErrNotInitialized
	}
	s.wouldCall("peerConnection.CreateOffer(nil)")
	s.wouldCall("peerConnection.SetLocalDescription(offer)")

	return &webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  stubOfferSDP,
	}, nil
}

// RenderVideo narrates attaching a video sink.
func (s *Stub) RenderVideo() error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.wouldCall("peerConnection.OnTrack(renderer.Consume)")

	return nil
}

// Close releases nothing; the stub holds no resources.
func (s *Stub) Close() error {
	s.log.Debugf("stub engine closed")

	return nil
}
