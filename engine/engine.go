// SPDX-License-Identifier: MIT

// Package engine defines the media engine abstraction driven by the demo
// clients, together with a stub engine that only narrates the library calls
// a real engine would make.
package engine

import (
	"errors"

	"github.com/pion/webrtc/v3"
)

// Static errors for err113 compliance.
var (
	// ErrNotInitialized is returned when a step runs before
	// CreatePeerConnection.
	ErrNotInitialized = errors.New("peer connection not initialized")
)

// Engine is the set of initialization steps a media engine exposes to the
// demo clients. Steps are expected to be called in declaration order; every
// step after CreatePeerConnection fails with ErrNotInitialized when the peer
// connection was never created.
type Engine interface {
	CreatePeerConnection() error
	AddVideoStream() error
	AddAudioStream() error
	StartVideoCapture() error
	CreateOffer() (*webrtc.SessionDescription, error)
	RenderVideo() error
	Close() error
}
