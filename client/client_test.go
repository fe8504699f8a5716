// SPDX-License-Identifier: MIT

package client

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtcdemo/engine"
)

func newStubClient(t *testing.T, out *bytes.Buffer, in string) *Client {
	t.Helper()

	stub, err := engine.NewStub(engine.StubOutput(out))
	require.NoError(t, err)

	cli, err := New(stub,
		Output(out),
		Input(strings.NewReader(in)),
		DisableColor(),
	)
	require.NoError(t, err)

	return cli
}

func TestRunTranscriptOrder(t *testing.T) {
	out := &bytes.Buffer{}
	cli := newStubClient(t, out, "\n")
	defer func() { _ = cli.Close() }()

	require.NoError(t, cli.Run(context.Background()))

	transcript := out.String()
	lines := []string{
		"=== WebRTC Video Streaming Client ===",
		"Initializing network stack...",
		"Network stack initialized!",
		"Creating PeerConnection...",
		"PeerConnection created successfully!",
		"Adding video stream...",
		"Video stream added successfully!",
		"Adding audio stream...",
		"Audio stream added successfully!",
		"Starting video capture...",
		"Video capture started!",
		"Creating offer...",
		"Offer created successfully!",
		"Rendering video...",
		"Video rendering active!",
		"=== Features Demonstrated ===",
		"* SDP offer/answer",
		"Press Enter to exit...",
	}
	last := -1
	for _, line := range lines {
		idx := strings.Index(transcript, line)
		require.Greaterf(t, idx, last, "line %q missing or out of order", line)
		last = idx
	}
}

func TestRunIsDeterministic(t *testing.T) {
	first := &bytes.Buffer{}
	second := &bytes.Buffer{}

	cli1 := newStubClient(t, first, "\n")
	require.NoError(t, cli1.Run(context.Background()))

	cli2 := newStubClient(t, second, "\n")
	require.NoError(t, cli2.Run(context.Background()))

	assert.Equal(t, first.String(), second.String())
}

func TestRunWaitsForEnter(t *testing.T) {
	out := &bytes.Buffer{}
	// An empty input reader hits EOF immediately, which counts as the
	// keypress for non-interactive runs.
	cli := newStubClient(t, out, "")

	require.NoError(t, cli.Run(context.Background()))
	assert.Contains(t, out.String(), "Press Enter to exit...")
}

func TestRunCanceledContext(t *testing.T) {
	out := &bytes.Buffer{}
	cli := newStubClient(t, out, "\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cli.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// brokenEngine fails every step to exercise the failure path.
type brokenEngine struct {
	engine.Engine
}

func (brokenEngine) CreatePeerConnection() error { return engine.ErrNotInitialized }

func TestRunReportsStepFailure(t *testing.T) {
	out := &bytes.Buffer{}
	cli, err := New(brokenEngine{}, Output(out), Input(strings.NewReader("\n")), DisableColor())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err = cli.Run(ctx)
	require.ErrorIs(t, err, engine.ErrNotInitialized)
	assert.Contains(t, out.String(), "Creating PeerConnection failed:")
	// Later steps must not run after a failure.
	assert.NotContains(t, out.String(), "Adding video stream...")
}
