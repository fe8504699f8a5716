// SPDX-License-Identifier: MIT

package signal

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := NewServer(WaitTimeout(200 * time.Millisecond))
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return srv, ts
}

// waitForRelayed polls Wait until a message from another peer arrives,
// skipping roster notifications.
func waitForRelayed(t *testing.T, client *Client) (int, string) {
	t.Helper()

	for {
		from, data, err := client.Wait(context.Background())
		require.NoError(t, err)
		if from != client.ID() {
			return from, data
		}
	}
}

func TestSignInAssignsSequentialIDs(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/sign_in?alice")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, "alice,1,1", strings.TrimSpace(string(body)))

	resp, err = http.Get(ts.URL + "/sign_in?bob")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	// Self first, then the rest of the roster.
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "bob,2,1", lines[0])
	assert.Equal(t, "alice,1,1", lines[1])
}

func TestMessageForwarding(t *testing.T) {
	_, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)
	bob, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()

	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)

	others, err := bob.SignIn(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "alice", others[0].Name)

	require.NoError(t, bob.SendToPeer(ctx, alice.ID(), `{"type":"offer"}`))

	from, data := waitForRelayed(t, alice)
	assert.Equal(t, bob.ID(), from)
	assert.Equal(t, `{"type":"offer"}`, data)
}

func TestWaitDeliversQueuedMessagesInOrder(t *testing.T) {
	_, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)
	bob, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)
	_, err = bob.SignIn(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, bob.SendToPeer(ctx, alice.ID(), "first"))
	require.NoError(t, bob.SendToPeer(ctx, alice.ID(), "second"))

	_, data := waitForRelayed(t, alice)
	assert.Equal(t, "first", data)

	_, data = waitForRelayed(t, alice)
	assert.Equal(t, "second", data)
}

func TestWaitBlocksUntilMessageArrives(t *testing.T) {
	_, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)
	bob, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)
	_, err = bob.SignIn(ctx, "bob")
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = bob.SendToPeer(context.Background(), alice.ID(), "late")
	}()

	from, data := waitForRelayed(t, alice)
	assert.Equal(t, bob.ID(), from)
	assert.Equal(t, "late", data)
}

func TestRosterUpdatesArePushedToWaitingPeers(t *testing.T) {
	_, ts := newTestServer(t)

	ctx := context.Background()

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)

	bob, err := NewClient(ts.URL)
	require.NoError(t, err)
	_, err = bob.SignIn(ctx, "bob")
	require.NoError(t, err)

	from, data, err := alice.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice.ID(), from)

	joined, err := ParseRosterLine(data)
	require.NoError(t, err)
	assert.Equal(t, "bob", joined.Name)
	assert.True(t, joined.Connected)

	require.NoError(t, bob.SignOut(ctx))

	from, data, err = alice.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice.ID(), from)

	left, err := ParseRosterLine(data)
	require.NoError(t, err)
	assert.Equal(t, "bob", left.Name)
	assert.False(t, left.Connected)
}

func TestWaitTimesOutWithRosterNotification(t *testing.T) {
	_, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)

	// No message arrives within the wait timeout; the notification comes
	// back addressed from our own id.
	from, data, err := alice.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, alice.ID(), from)
	assert.Contains(t, data, "alice")
}

func TestWaitUnknownPeer(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/wait?peer_id=42")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageUnknownTarget(t *testing.T) {
	_, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)

	err = alice.SendToPeer(ctx, 99, "hello?")
	assert.ErrorIs(t, err, ErrUnexpectedStatus)
}

func TestSignOutRemovesPeer(t *testing.T) {
	srv, ts := newTestServer(t)

	alice, err := NewClient(ts.URL)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = alice.SignIn(ctx, "alice")
	require.NoError(t, err)
	id := alice.ID()

	require.NoError(t, alice.SignOut(ctx))
	assert.Zero(t, alice.ID())

	srv.mu.Lock()
	_, exists := srv.peers[id]
	srv.mu.Unlock()
	assert.False(t, exists)

	// Signing out twice is a no-op.
	resp, err := http.Get(ts.URL + "/sign_out?peer_id=1")
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIDsAreNeverReused(t *testing.T) {
	_, ts := newTestServer(t)

	ctx := context.Background()

	first, err := NewClient(ts.URL)
	require.NoError(t, err)
	_, err = first.SignIn(ctx, "first")
	require.NoError(t, err)
	require.NoError(t, first.SignOut(ctx))

	second, err := NewClient(ts.URL)
	require.NoError(t, err)
	_, err = second.SignIn(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, 2, second.ID())
}

func TestCORSHeaders(t *testing.T) {
	_, ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/message", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHomeServesTestPage(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "PeerConnection server test page")
}

func TestClientWaitRequiresSignIn(t *testing.T) {
	_, ts := newTestServer(t)

	client, err := NewClient(ts.URL)
	require.NoError(t, err)

	_, _, err = client.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNotSignedIn)

	err = client.SendToPeer(context.Background(), 1, "data")
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestParseRosterLineWithCommaName(t *testing.T) {
	peer, err := ParseRosterLine("doe, john,7,1")
	require.NoError(t, err)
	assert.Equal(t, "doe, john", peer.Name)
	assert.Equal(t, 7, peer.ID)
	assert.True(t, peer.Connected)

	_, err = ParseRosterLine("garbage")
	assert.ErrorIs(t, err, ErrMalformedRoster)
}
