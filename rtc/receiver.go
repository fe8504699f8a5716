// SPDX-License-Identifier: MIT

package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media/ivfwriter"
)

// Static errors for err113 compliance.
var (
	ErrUnsafeOutputPath = errors.New("output path rejected")
)

// Receiver is the answering side of the demo. It accepts an offer, receives
// the synthetic media and reports per-second throughput. Received VP8 video
// can optionally be captured to IVF files.
type Receiver struct {
	settingEngine *webrtc.SettingEngine
	mediaEngine   *webrtc.MediaEngine
	registry      *interceptor.Registry

	peerConnection *webrtc.PeerConnection

	mu             sync.Mutex
	outputBasePath string
	videoWriters   map[string]io.WriteCloser
	ivfWriters     map[string]*ivfwriter.IVFWriter
	trackCounter   int

	onStateChange func(webrtc.PeerConnectionState)

	log logging.LeveledLogger
}

// NewReceiver creates a receiver with default codecs and interceptors.
func NewReceiver(opts ...ReceiverOption) (*Receiver, error) {
	receiver := &Receiver{
		settingEngine: &webrtc.SettingEngine{},
		mediaEngine:   &webrtc.MediaEngine{},
		registry:      &interceptor.Registry{},
		videoWriters:  make(map[string]io.WriteCloser),
		ivfWriters:    make(map[string]*ivfwriter.IVFWriter),
		log:           logging.NewDefaultLoggerFactory().NewLogger("receiver"),
	}
	if err := receiver.mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := webrtc.RegisterDefaultInterceptors(receiver.mediaEngine, receiver.registry); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(receiver); err != nil {
			return nil, err
		}
	}

	return receiver, nil
}

// SetupPeerConnection initializes the peer connection and the track handler.
func (r *Receiver) SetupPeerConnection() error {
	peerConnection, err := webrtc.NewAPI(
		webrtc.WithSettingEngine(*r.settingEngine),
		webrtc.WithInterceptorRegistry(r.registry),
		webrtc.WithMediaEngine(r.mediaEngine),
	).NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}

	peerConnection.OnICEConnectionStateChange(func(connectionState webrtc.ICEConnectionState) {
		r.log.Infof("ICE connection state has changed: %s", connectionState.String())
	})
	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.log.Infof("Peer connection state has changed: %s", state.String())
		if r.onStateChange != nil {
			r.onStateChange(state)
		}
	})
	peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		r.log.Debugf("local candidate: %v", candidate)
	})
	peerConnection.OnTrack(r.onTrack)

	r.peerConnection = peerConnection

	return nil
}

// AcceptOffer applies the remote offer and produces a gathered answer.
func (r *Receiver) AcceptOffer(offer *webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := r.peerConnection.SetRemoteDescription(*offer); err != nil {
		return nil, err
	}

	answer, err := r.peerConnection.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(r.peerConnection)
	if err = r.peerConnection.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete

	return r.peerConnection.LocalDescription(), nil
}

func (r *Receiver) onTrack(trackRemote *webrtc.TrackRemote, rtpReceiver *webrtc.RTPReceiver) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	isVP8 := trackRemote.Kind() == webrtc.RTPCodecTypeVideo &&
		trackRemote.Codec().MimeType == webrtc.MimeTypeVP8

	r.mu.Lock()
	r.trackCounter++
	identifier := fmt.Sprintf("track-%d", r.trackCounter)
	if r.outputBasePath != "" && isVP8 {
		r.createOutputFile(identifier)
	}
	r.mu.Unlock()

	r.log.Infof("%s: remote %s track (%s)", identifier, trackRemote.Kind(), trackRemote.Codec().MimeType)

	bytesReceived := make(chan int)
	go r.reportThroughput(ctx, identifier, bytesReceived)

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if err := r.setReadDeadlines(rtpReceiver, trackRemote); err != nil {
				continue
			}

			packet, _, err := trackRemote.ReadRTP()
			if errors.Is(err, io.EOF) {
				r.log.Infof("%s: ReadRTP received EOF", identifier)

				return
			}
			if err != nil {
				r.log.Debugf("%s: ReadRTP returned error: %v", identifier, err)

				continue
			}

			bytesReceived <- packet.MarshalSize()
			if isVP8 {
				r.writeVideoPacket(identifier, packet)
			}
		}
	}
}

// reportThroughput logs the received bitrate once per second.
func (r *Receiver) reportThroughput(ctx context.Context, identifier string, bytesReceived chan int) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	received := 0
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			rate := float64(received) * 8.0 / delta.Seconds()
			r.log.Infof("%s: throughput: %.2f kb/s", identifier, rate/1000)
			received = 0
			last = now
		case n := <-bytesReceived:
			received += n
		}
	}
}

func (r *Receiver) setReadDeadlines(rtpReceiver *webrtc.RTPReceiver, trackRemote *webrtc.TrackRemote) error {
	deadline := time.Now().Add(time.Second)
	if err := rtpReceiver.SetReadDeadline(deadline); err != nil {
		r.log.Debugf("failed to SetReadDeadline for rtpReceiver: %v", err)

		return err
	}
	if err := trackRemote.SetReadDeadline(deadline); err != nil {
		r.log.Debugf("failed to SetReadDeadline for trackRemote: %v", err)

		return err
	}

	return nil
}

// createOutputFile opens the IVF capture file for a track. Callers must hold
// r.mu.
func (r *Receiver) createOutputFile(identifier string) {
	filename := fmt.Sprintf("%s_%s.ivf", r.outputBasePath, identifier)
	// Reject anything that cleans differently to avoid path traversal via
	// the base path.
	if filepath.Clean(filename) != filename {
		r.log.Errorf("%v: %s", ErrUnsafeOutputPath, filename)

		return
	}

	file, err := os.Create(filename) // #nosec G304 -- validated above
	if err != nil {
		r.log.Errorf("failed to create output file for %s: %v", identifier, err)

		return
	}
	r.videoWriters[identifier] = file
	r.log.Infof("created output file: %s", filename)
}

// writeVideoPacket appends an RTP packet to the track's IVF capture if one
// is configured.
func (r *Receiver) writeVideoPacket(identifier string, packet *rtp.Packet) {
	r.mu.Lock()
	defer r.mu.Unlock()

	videoWriter := r.videoWriters[identifier]
	if videoWriter == nil {
		return
	}

	writer := r.ivfWriters[identifier]
	if writer == nil {
		var err error
		writer, err = ivfwriter.NewWith(videoWriter)
		if err != nil {
			r.log.Errorf("failed to create IVF writer: %v", err)

			return
		}
		r.ivfWriters[identifier] = writer
	}

	if err := writer.WriteRTP(packet); err != nil {
		r.log.Debugf("failed to write RTP packet to IVF: %v", err)
	}
}

// SDPHandler returns an HTTP handler implementing the single-message /sdp
// signaling exchange.
func (r *Receiver) SDPHandler() http.HandlerFunc {
	return func(respWriter http.ResponseWriter, req *http.Request) {
		sdp := webrtc.SessionDescription{}
		if err := json.NewDecoder(req.Body).Decode(&sdp); err != nil {
			r.log.Errorf("failed to decode SDP offer: %v", err)
			respWriter.WriteHeader(http.StatusBadRequest)

			return
		}
		answer, err := r.AcceptOffer(&sdp)
		if err != nil {
			r.log.Errorf("failed to accept offer: %v", err)
			respWriter.WriteHeader(http.StatusBadRequest)

			return
		}
		payload, err := json.Marshal(answer)
		if err != nil {
			r.log.Errorf("failed to marshal SDP answer: %v", err)
			respWriter.WriteHeader(http.StatusInternalServerError)

			return
		}
		respWriter.Header().Set("Content-Type", "application/json")
		if _, err := respWriter.Write(payload); err != nil {
			r.log.Errorf("failed to write signaling response: %v", err)
		}
	}
}

// Close shuts down the capture writers and the peer connection.
func (r *Receiver) Close() error {
	r.mu.Lock()
	for identifier, writer := range r.ivfWriters {
		if err := writer.Close(); err != nil {
			r.log.Errorf("failed to close IVF writer for %s: %v", identifier, err)
		}
	}
	for identifier, writer := range r.videoWriters {
		if r.ivfWriters[identifier] != nil {
			continue // closed through the IVF writer
		}
		if err := writer.Close(); err != nil {
			r.log.Errorf("failed to close video writer for %s: %v", identifier, err)
		}
	}
	r.mu.Unlock()

	if r.peerConnection == nil {
		return nil
	}

	return r.peerConnection.Close()
}
