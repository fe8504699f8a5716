// SPDX-License-Identifier: MIT

// Package rtc implements the real media engine on top of pion/webrtc. The
// Engine is the offering side of the demo: it owns the peer connection,
// local tracks and the congestion controlled streaming loop. Receiver is
// the answering side.
package rtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/cc"
	"github.com/pion/interceptor/pkg/gcc"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v3"
	"golang.org/x/sync/errgroup"

	"rtcdemo/engine"
)

const (
	initialBitrate = 300_000
	audioBitrate   = 32_000
	videoFPS       = 10
)

// Static errors for err113 compliance.
var (
	ErrNoVideoTrack    = errors.New("no video track added")
	ErrSignalingFailed = errors.New("signaling received unexpected status code")
)

// Engine is a real media engine backed by pion/webrtc. It implements the
// same checklist steps as the stub engine and additionally supports offer
// signaling and a streaming loop.
type Engine struct {
	settingEngine *webrtc.SettingEngine
	mediaEngine   *webrtc.MediaEngine
	registry      *interceptor.Registry

	peerConnection *webrtc.PeerConnection
	videoTrack     *webrtc.TrackLocalStaticSample
	audioTrack     *webrtc.TrackLocalStaticSample

	videoSource MediaSource
	audioSource MediaSource

	estimatorChan chan cc.BandwidthEstimator

	ccLogWriter     io.Writer
	onTargetBitrate func(int)
	onStateChange   func(webrtc.PeerConnectionState)

	log logging.LeveledLogger
}

var _ engine.Engine = (*Engine)(nil)

// NewEngine creates an engine with default codecs, GCC congestion control
// and synthetic media sources.
func NewEngine(opts ...Option) (*Engine, error) {
	eng := &Engine{
		settingEngine: &webrtc.SettingEngine{},
		mediaEngine:   &webrtc.MediaEngine{},
		registry:      &interceptor.Registry{},
		videoSource:   NewSyntheticVideoSource(videoFPS, initialBitrate),
		audioSource:   NewSyntheticAudioSource(audioBitrate),
		estimatorChan: make(chan cc.BandwidthEstimator, 1),
		ccLogWriter:   io.Discard,
		log:           logging.NewDefaultLoggerFactory().NewLogger("rtc_engine"),
	}
	if err := eng.mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}

	congestionController, err := cc.NewInterceptor(func() (cc.BandwidthEstimator, error) {
		return gcc.NewSendSideBWE(gcc.SendSideBWEInitialBitrate(initialBitrate))
	})
	if err != nil {
		return nil, err
	}
	congestionController.OnNewPeerConnection(func(_ string, estimator cc.BandwidthEstimator) {
		eng.estimatorChan <- estimator
	})
	eng.registry.Add(congestionController)

	if err = webrtc.ConfigureTWCCHeaderExtensionSender(eng.mediaEngine, eng.registry); err != nil {
		return nil, err
	}
	if err = webrtc.RegisterDefaultInterceptors(eng.mediaEngine, eng.registry); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		if err := opt(eng); err != nil {
			return nil, err
		}
	}

	return eng, nil
}

// CreatePeerConnection builds the RTCPeerConnection and installs the state
// handlers.
func (e *Engine) CreatePeerConnection() error {
	peerConnection, err := webrtc.NewAPI(
		webrtc.WithSettingEngine(*e.settingEngine),
		webrtc.WithInterceptorRegistry(e.registry),
		webrtc.WithMediaEngine(e.mediaEngine),
	).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	e.peerConnection = peerConnection

	e.peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		e.log.Infof("ICE connection state has changed: %s", connectionState.String())
	})
	e.peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.log.Infof("Peer connection state has changed: %s", state.String())
		if e.onStateChange != nil {
			e.onStateChange(state)
		}
	})
	e.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		e.log.Debugf("local candidate: %v", candidate)
	})

	return nil
}

// addTrack adds a local track and drains its RTCP stream.
func (e *Engine) addTrack(track *webrtc.TrackLocalStaticSample) error {
	rtpSender, err := e.peerConnection.AddTrack(track)
	if err != nil {
		return err
	}

	// Read incoming RTCP packets. Before these packets are returned they
	// are processed by interceptors; for things like NACK this needs to be
	// called.
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := rtpSender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	return nil
}

// AddVideoStream creates the local VP8 track.
func (e *Engine) AddVideoStream() error {
	if e.peerConnection == nil {
		return engine.ErrNotInitialized
	}

	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "stream",
	)
	if err != nil {
		return err
	}
	e.videoTrack = videoTrack

	return e.addTrack(videoTrack)
}

// AddAudioStream creates the local Opus track.
func (e *Engine) AddAudioStream() error {
	if e.peerConnection == nil {
		return engine.ErrNotInitialized
	}

	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "stream",
	)
	if err != nil {
		return err
	}
	e.audioTrack = audioTrack

	return e.addTrack(audioTrack)
}

// StartVideoCapture wires the media sources to their tracks. The sources do
// not produce anything until Start runs the streaming loop.
func (e *Engine) StartVideoCapture() error {
	if e.peerConnection == nil {
		return engine.ErrNotInitialized
	}
	if e.videoTrack == nil {
		return ErrNoVideoTrack
	}

	e.videoSource.SetWriter(e.videoTrack.WriteSample)
	if e.audioTrack != nil {
		e.audioSource.SetWriter(e.audioTrack.WriteSample)
	}

	return nil
}

// RenderVideo installs the remote track consumer. Without a real decoder the
// demo only drains and accounts for the incoming packets.
func (e *Engine) RenderVideo() error {
	if e.peerConnection == nil {
		return engine.ErrNotInitialized
	}

	e.peerConnection.OnTrack(func(trackRemote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		e.log.Infof("remote %s track received, draining", trackRemote.Kind())
		for {
			if _, _, err := trackRemote.ReadRTP(); err != nil {
				return
			}
		}
	})

	return nil
}

// CreateOffer creates the local description and blocks until ICE gathering
// completes, disabling trickle ICE so a single signaling message suffices.
func (e *Engine) CreateOffer() (*webrtc.SessionDescription, error) {
	if e.peerConnection == nil {
		return nil, engine.ErrNotInitialized
	}
	offer, err := e.peerConnection.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(e.peerConnection)
	if err = e.peerConnection.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	e.log.Debugf("gathering complete: %v", e.peerConnection.ICEGatheringState())

	return e.peerConnection.LocalDescription(), nil
}

// AcceptAnswer applies the remote description.
func (e *Engine) AcceptAnswer(answer *webrtc.SessionDescription) error {
	if e.peerConnection == nil {
		return engine.ErrNotInitialized
	}

	return e.peerConnection.SetRemoteDescription(*answer)
}

// Start runs the streaming loop: the congestion controller steers the
// synthetic sources until the context is canceled.
func (e *Engine) Start(ctx context.Context) error {
	if e.videoTrack == nil {
		return ErrNoVideoTrack
	}

	wg, ctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return e.runBitrateLoop(ctx)
	})
	wg.Go(func() error {
		return e.videoSource.Start(ctx)
	})
	if e.audioTrack != nil {
		wg.Go(func() error {
			return e.audioSource.Start(ctx)
		})
	}

	return wg.Wait()
}

func (e *Engine) runBitrateLoop(ctx context.Context) error {
	var estimator cc.BandwidthEstimator
	select {
	case estimator = <-e.estimatorChan:
	case <-ctx.Done():
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastLog := time.Now()
	lastBitrate := initialBitrate
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			targetBitrate := estimator.GetTargetBitrate()
			if now.Sub(lastLog) >= time.Second {
				e.log.Infof("targetBitrate = %v", targetBitrate)
				lastLog = now
			}
			if lastBitrate != targetBitrate {
				e.videoSource.SetTargetBitrate(targetBitrate)
				lastBitrate = targetBitrate
			}
			if e.onTargetBitrate != nil {
				e.onTargetBitrate(targetBitrate)
			}
			fmt.Fprintf(e.ccLogWriter, "%v, %v\n", now.UnixMilli(), targetBitrate)
		}
	}
}

// SignalHTTP posts the local offer to an HTTP signaling endpoint and applies
// the answer from the response body.
func (e *Engine) SignalHTTP(ctx context.Context, addr, route string) error {
	offer, err := e.CreateOffer()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(offer)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/%s", addr, route)
	e.log.Infof("connecting to %q", url)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %v", ErrSignalingFailed, resp.Status)
	}

	answer := webrtc.SessionDescription{}
	if err := json.NewDecoder(resp.Body).Decode(&answer); err != nil {
		return err
	}

	return e.AcceptAnswer(&answer)
}

// PeerConnection exposes the underlying peer connection.
func (e *Engine) PeerConnection() *webrtc.PeerConnection {
	return e.peerConnection
}

// Close releases the peer connection.
func (e *Engine) Close() error {
	if e.peerConnection == nil {
		return nil
	}

	return e.peerConnection.Close()
}
