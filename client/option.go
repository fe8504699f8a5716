// SPDX-License-Identifier: MIT

package client

import (
	"io"

	"github.com/pion/logging"
)

// Option configures a Client.
type Option func(*Client) error

// Output redirects the checklist output.
func Output(w io.Writer) Option {
	return func(c *Client) error {
		c.out = w

		return nil
	}
}

// Input sets the reader consulted for the final keypress.
func Input(r io.Reader) Option {
	return func(c *Client) error {
		c.in = r

		return nil
	}
}

// SetLoggerFactory sets the logger factory used for diagnostics.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(c *Client) error {
		c.log = loggerFactory.NewLogger("client")

		return nil
	}
}

// DisableColor turns off colored banners, e.g. when output is piped.
func DisableColor() Option {
	return func(c *Client) error {
		c.banner.DisableColor()

		return nil
	}
}
