// SPDX-License-Identifier: MIT

package signal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pion/logging"
)

// Static errors for err113 compliance.
var (
	ErrNotSignedIn      = errors.New("not signed in")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrMalformedRoster  = errors.New("malformed roster line")
)

// Peer is one entry of the sign-in roster.
type Peer struct {
	Name      string
	ID        int
	Connected bool
}

// Client talks to a rendezvous Server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	peerID     int
	log        logging.LeveledLogger
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// HTTPClient replaces the HTTP client used for all requests.
func HTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) error {
		c.httpClient = httpClient

		return nil
	}
}

// ClientLoggerFactory sets the logger factory used for diagnostics.
func ClientLoggerFactory(loggerFactory logging.LoggerFactory) ClientOption {
	return func(c *Client) error {
		c.log = loggerFactory.NewLogger("signal_client")

		return nil
	}
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:8888".
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		log:        logging.NewDefaultLoggerFactory().NewLogger("signal_client"),
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			return nil, err
		}
	}

	return client, nil
}

// ID returns the peer id assigned at sign-in, or 0 before that.
func (c *Client) ID() int {
	return c.peerID
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	return c.httpClient.Do(req)
}

// SignIn registers with the rendezvous under the given name and returns the
// other connected peers.
func (c *Client) SignIn(ctx context.Context, name string) ([]Peer, error) {
	resp, err := c.get(ctx, "/sign_in?"+name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedStatus, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, ErrMalformedRoster
	}

	self, err := ParseRosterLine(lines[0])
	if err != nil {
		return nil, err
	}
	c.peerID = self.ID
	c.log.Infof("signed in as %s with id %d", name, c.peerID)

	others := make([]Peer, 0, len(lines)-1)
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		other, err := ParseRosterLine(line)
		if err != nil {
			return nil, err
		}
		others = append(others, other)
	}

	return others, nil
}

// Wait polls the rendezvous for the next relayed message. A message from the
// client's own id is a roster notification, not peer data.
func (c *Client) Wait(ctx context.Context) (fromPeer int, data string, err error) {
	if c.peerID == 0 {
		return 0, "", ErrNotSignedIn
	}

	resp, err := c.get(ctx, "/wait?peer_id="+strconv.Itoa(c.peerID))
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("%w: %v", ErrUnexpectedStatus, resp.Status)
	}

	fromPeer, err = strconv.Atoi(resp.Header.Get("Pragma"))
	if err != nil {
		return 0, "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}

	return fromPeer, string(body), nil
}

// SendToPeer relays data to another peer.
func (c *Client) SendToPeer(ctx context.Context, toPeer int, data string) error {
	if c.peerID == 0 {
		return ErrNotSignedIn
	}

	url := fmt.Sprintf("%s/message?peer_id=%d&to=%d", c.baseURL, c.peerID, toPeer)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %v", ErrUnexpectedStatus, resp.Status)
	}

	return nil
}

// SignOut removes the client from the rendezvous.
func (c *Client) SignOut(ctx context.Context) error {
	if c.peerID == 0 {
		return nil
	}

	resp, err := c.get(ctx, "/sign_out?peer_id="+strconv.Itoa(c.peerID))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	c.peerID = 0

	return nil
}

// ParseRosterLine parses a single "name,id,connected" roster entry.
func ParseRosterLine(line string) (Peer, error) {
	// Peer names may contain commas; the id and connected flag are the
	// last two fields.
	fields := strings.Split(line, ",")
	if len(fields) < 3 {
		return Peer{}, fmt.Errorf("%w: %q", ErrMalformedRoster, line)
	}

	id, err := strconv.Atoi(fields[len(fields)-2])
	if err != nil {
		return Peer{}, fmt.Errorf("%w: %q", ErrMalformedRoster, line)
	}
	connected := fields[len(fields)-1] == "1"
	name := strings.Join(fields[:len(fields)-2], ",")

	return Peer{Name: name, ID: id, Connected: connected}, nil
}
