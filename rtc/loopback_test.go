// SPDX-License-Identifier: MIT

package rtc

import (
	"context"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/vnet"
	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/require"
)

// buildVnet attaches two hosts to a single virtual WAN router so the
// loopback test never touches the real network.
func buildVnet(t *testing.T) (left, right *vnet.Net, leftIP, rightIP string) {
	t.Helper()

	wan, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "0.0.0.0/0",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)

	leftIP, rightIP = "1.2.3.4", "1.2.3.5"

	left = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{leftIP}})
	require.NoError(t, wan.AddNet(left))

	right = vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{rightIP}})
	require.NoError(t, wan.AddNet(right))

	require.NoError(t, wan.Start())
	t.Cleanup(func() { _ = wan.Stop() })

	return left, right, leftIP, rightIP
}

func TestLoopbackConnects(t *testing.T) {
	leftNet, rightNet, leftIP, rightIP := buildVnet(t)

	engineConnected := make(chan struct{}, 1)
	receiverConnected := make(chan struct{}, 1)

	eng, err := NewEngine(
		SetVnet(leftNet, []string{leftIP}),
		ConnectionStateHook(func(state webrtc.PeerConnectionState) {
			if state == webrtc.PeerConnectionStateConnected {
				select {
				case engineConnected <- struct{}{}:
				default:
				}
			}
		}),
	)
	require.NoError(t, err)
	defer func() { _ = eng.Close() }()

	receiver, err := NewReceiver(
		ReceiverVnet(rightNet, []string{rightIP}),
		ReceiverStateHook(func(state webrtc.PeerConnectionState) {
			if state == webrtc.PeerConnectionStateConnected {
				select {
				case receiverConnected <- struct{}{}:
				default:
				}
			}
		}),
	)
	require.NoError(t, err)
	defer func() { _ = receiver.Close() }()

	require.NoError(t, eng.CreatePeerConnection())
	require.NoError(t, eng.AddVideoStream())
	require.NoError(t, eng.AddAudioStream())
	require.NoError(t, eng.StartVideoCapture())

	require.NoError(t, receiver.SetupPeerConnection())

	offer, err := eng.CreateOffer()
	require.NoError(t, err)

	answer, err := receiver.AcceptOffer(offer)
	require.NoError(t, err)

	require.NoError(t, eng.AcceptAnswer(answer))

	for _, connected := range []chan struct{}{engineConnected, receiverConnected} {
		select {
		case <-connected:
		case <-time.After(15 * time.Second):
			t.Fatal("timed out waiting for peer connection to connect")
		}
	}

	// Stream briefly; the loop ends cleanly when the context expires.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Start(ctx))
}
