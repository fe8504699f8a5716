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

// ReceiverOption configures a Receiver.
type ReceiverOption func(*Receiver) error

// PacketLogWriter logs incoming RTP and RTCP packets as CSV rows.
func PacketLogWriter(rtpWriter, rtcpWriter io.Writer) ReceiverOption {
	return func(r *Receiver) error {
		formatter := &plogging.RTPFormatter{}
		packetLogger, err := packetdump.NewReceiverInterceptor(
			packetdump.RTPFormatter(formatter.RTPFormat),
			packetdump.RTPWriter(rtpWriter),
			packetdump.RTCPFormatter(plogging.RTCPFormat),
			packetdump.RTCPWriter(rtcpWriter),
		)
		if err != nil {
			return err
		}
		r.registry.Add(packetLogger)

		return nil
	}
}

// ReceiverVnet runs the receiver on a virtual network, for hermetic tests.
func ReceiverVnet(v *vnet.Net, publicIPs []string) ReceiverOption {
	return func(r *Receiver) error {
		r.settingEngine.SetVNet(v)
		r.settingEngine.SetICETimeouts(time.Second, time.Second, 200*time.Millisecond)
		r.settingEngine.SetNAT1To1IPs(publicIPs, webrtc.ICECandidateTypeHost)

		return nil
	}
}

// ReceiverLoggerFactory sets the logger factory used for diagnostics.
func ReceiverLoggerFactory(loggerFactory logging.LoggerFactory) ReceiverOption {
	return func(r *Receiver) error {
		r.log = loggerFactory.NewLogger("receiver")
		r.settingEngine.LoggerFactory = loggerFactory

		return nil
	}
}

// SaveVideo captures received VP8 tracks to IVF files named
// <basePath>_<track>.ivf.
func SaveVideo(basePath string) ReceiverOption {
	return func(r *Receiver) error {
		r.outputBasePath = basePath

		return nil
	}
}

// ReceiverStateHook installs a callback forwarded from the peer connection
// state handler.
func ReceiverStateHook(hook func(webrtc.PeerConnectionState)) ReceiverOption {
	return func(r *Receiver) error {
		r.onStateChange = hook

		return nil
	}
}
