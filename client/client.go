// SPDX-License-Identifier: MIT

// Package client implements the narrated initialization checklist shared by
// the demo programs. A Client drives a media engine through the fixed
// sequence of setup steps, printing a line before and after each one, and
// finally waits for a keypress before returning.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/pion/logging"

	"rtcdemo/engine"
)

// Client drives an engine through the initialization checklist.
type Client struct {
	engine engine.Engine

	out    io.Writer
	in     io.Reader
	banner *color.Color

	log logging.LeveledLogger
}

// New creates a checklist client for the given engine.
func New(eng engine.Engine, opts ...Option) (*Client, error) {
	client := &Client{
		engine: eng,
		out:    os.Stdout,
		in:     os.Stdin,
		banner: color.New(color.FgCyan, color.Bold),
		log:    logging.NewDefaultLoggerFactory().NewLogger("client"),
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// step runs one checklist entry, framing the engine call with the doing and
// done lines the original demo printed.
func (c *Client) step(doing, done string, fn func() error) error {
	fmt.Fprintf(c.out, "%s...\n", doing)
	if err := fn(); err != nil {
		fmt.Fprintf(c.out, "%s failed: %v\n", doing, err)

		return fmt.Errorf("%s: %w", doing, err)
	}
	fmt.Fprintf(c.out, "%s!\n", done)

	return nil
}

// CreatePeerConnection runs the peer connection step.
func (c *Client) CreatePeerConnection() error {
	return c.step("Creating PeerConnection", "PeerConnection created successfully", c.engine.CreatePeerConnection)
}

// AddVideoStream runs the video track step.
func (c *Client) AddVideoStream() error {
	return c.step("Adding video stream", "Video stream added successfully", c.engine.AddVideoStream)
}

// AddAudioStream runs the audio track step.
func (c *Client) AddAudioStream() error {
	return c.step("Adding audio stream", "Audio stream added successfully", c.engine.AddAudioStream)
}

// StartVideoCapture runs the capture step.
func (c *Client) StartVideoCapture() error {
	return c.step("Starting video capture", "Video capture started", c.engine.StartVideoCapture)
}

// CreateOffer runs the offer step and logs the resulting description.
func (c *Client) CreateOffer() error {
	return c.step("Creating offer", "Offer created successfully", func() error {
		offer, err := c.engine.CreateOffer()
		if err != nil {
			return err
		}
		c.log.Debugf("local description:\n%s", offer.SDP)

		return nil
	})
}

// RenderVideo runs the rendering step.
func (c *Client) RenderVideo() error {
	return c.step("Rendering video", "Video rendering active", c.engine.RenderVideo)
}

// Run executes the whole checklist, prints the closing banner and waits for
// a single line on the input reader. It returns early when ctx is canceled.
func (c *Client) Run(ctx context.Context) error {
	c.bannerln("=== WebRTC Video Streaming Client ===")

	fmt.Fprintln(c.out, "Initializing network stack...")
	fmt.Fprintln(c.out, "Network stack initialized!")

	steps := []func() error{
		c.CreatePeerConnection,
		c.AddVideoStream,
		c.AddAudioStream,
		c.StartVideoCapture,
		c.CreateOffer,
		c.RenderVideo,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(); err != nil {
			return err
		}
	}

	c.bannerln("\n=== Features Demonstrated ===")
	for _, feature := range []string{
		"PeerConnection creation",
		"Video stream handling",
		"Audio stream handling",
		"Video capture",
		"SDP offer/answer",
		"Video rendering",
	} {
		fmt.Fprintf(c.out, "  * %s\n", feature)
	}
	c.bannerln("=============================")

	fmt.Fprintln(c.out, "\nPress Enter to exit...")

	return c.waitForEnter(ctx)
}

func (c *Client) bannerln(line string) {
	if _, err := c.banner.Fprintln(c.out, line); err != nil {
		c.log.Warnf("failed to write banner: %v", err)
	}
}

// waitForEnter blocks until a line arrives on the input reader or the
// context is canceled.
func (c *Client) waitForEnter(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(c.in).ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close shuts down the underlying engine.
func (c *Client) Close() error {
	return c.engine.Close()
}
