// SPDX-License-Identifier: MIT

package rtc

import (
	"io"
	"time"

	"github.com/pion/interceptor/pkg/packetdump"
	"github.com/pion/logging"
	"github.com/pion/transport/vnet"
	"github.com/pion/webrtc/v3"

	plogging "rtcdemo/logging"
)

// Option configures an Engine.
type Option func(*Engine) error

// CCLogWriter directs the congestion controller's target bitrate log to w.
func CCLogWriter(w io.Writer) Option {
	return func(e *Engine) error {
		e.ccLogWriter = w

		return nil
	}
}

// RTPLogWriter logs all outgoing RTP packets as CSV rows to w.
func RTPLogWriter(w io.Writer) Option {
	return func(e *Engine) error {
		formatter := &plogging.RTPFormatter{}
		rtpLogger, err := packetdump.NewSenderInterceptor(
			packetdump.RTPFormatter(formatter.RTPFormat),
			packetdump.RTPWriter(w),
		)
		if err != nil {
			return err
		}
		e.registry.Add(rtpLogger)

		return nil
	}
}

// SetVnet runs the engine on a virtual network, for hermetic tests.
func SetVnet(v *vnet.Net, publicIPs []string) Option {
	return func(e *Engine) error {
		e.settingEngine.SetVNet(v)
		e.settingEngine.SetICETimeouts(time.Second, time.Second, 200*time.Millisecond)
		e.settingEngine.SetNAT1To1IPs(publicIPs, webrtc.ICECandidateTypeHost)

		return nil
	}
}

// SetLoggerFactory sets the logger factory used for diagnostics.
func SetLoggerFactory(loggerFactory logging.LoggerFactory) Option {
	return func(e *Engine) error {
		e.log = loggerFactory.NewLogger("rtc_engine")
		e.settingEngine.LoggerFactory = loggerFactory

		return nil
	}
}

// VideoSource replaces the default synthetic video source.
func VideoSource(source MediaSource) Option {
	return func(e *Engine) error {
		e.videoSource = source

		return nil
	}
}

// AudioSource replaces the default synthetic audio source.
func AudioSource(source MediaSource) Option {
	return func(e *Engine) error {
		e.audioSource = source

		return nil
	}
}

// TargetBitrateHook installs a callback invoked with every congestion
// controller bitrate update, e.g. to feed a live dashboard.
func TargetBitrateHook(hook func(bitrate int)) Option {
	return func(e *Engine) error {
		e.onTargetBitrate = hook

		return nil
	}
}

// ConnectionStateHook installs a callback forwarded from the peer connection
// state handler.
func ConnectionStateHook(hook func(webrtc.PeerConnectionState)) Option {
	return func(e *Engine) error {
		e.onStateChange = hook

		return nil
	}
}
