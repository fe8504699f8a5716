// SPDX-License-Identifier: MIT

// Package main is the full demo client. It can narrate the peer
// connection checklist with either engine, drive a real offer/answer
// exchange over HTTP or a rendezvous server, or run a local loopback
// session.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pionlogging "github.com/pion/logging"
	"github.com/pion/webrtc/v3"

	"rtcdemo/client"
	"rtcdemo/engine"
	"rtcdemo/logging"
	"rtcdemo/rtc"
	rendezvous "rtcdemo/signal"
	"rtcdemo/stats"
)

var errUnknownMode = errors.New("unknown mode")

type config struct {
	engine    string
	mode      string
	logLevel  string
	rtpLog    string
	ccLog     string
	statsAddr string
	addr      string
	server    string
	name      string
	save      string
	duration  time.Duration
}

func parseFlags() *config {
	cfg := &config{}
	flag.StringVar(&cfg.engine, "engine", "stub", "Engine: stub/rtc")
	flag.StringVar(&cfg.mode, "mode", "checklist", "Mode: checklist/offer/answer/loopback")
	flag.StringVar(&cfg.logLevel, "log", "error", "Log level (disable/error/warn/info/debug/trace)")
	flag.StringVar(&cfg.rtpLog, "rtp-log", "", "RTP log file ('stdout' or path, empty to disable)")
	flag.StringVar(&cfg.ccLog, "cc-log", "", "Congestion control log file ('stdout' or path, empty to disable)")
	flag.StringVar(&cfg.statsAddr, "stats", "", "Address for the bitrate dashboard (empty to disable)")
	flag.StringVar(&cfg.addr, "addr", "localhost:8080", "Peer address for direct HTTP signaling")
	flag.StringVar(&cfg.server, "server", "", "Rendezvous server URL (empty for direct HTTP signaling)")
	flag.StringVar(&cfg.name, "name", "client", "Name to register on the rendezvous server")
	flag.StringVar(&cfg.save, "save", "", "Base path for saving received video (answer mode)")
	flag.DurationVar(&cfg.duration, "duration", 0, "Session duration, 0 to run until interrupted")
	flag.Parse()

	return cfg
}

func realMain() error {
	cfg := parseFlags()

	loggerFactory, err := logging.NewLoggerFactory(cfg.logLevel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	app := &app{cfg: cfg, loggerFactory: loggerFactory}
	defer app.cleanup()

	switch cfg.mode {
	case "checklist":
		return app.runChecklist(ctx)
	case "offer":
		return app.runOfferer(ctx)
	case "answer":
		return app.runAnswerer(ctx)
	case "loopback":
		return app.runLoopback(ctx)
	default:
		return fmt.Errorf("%w: %s", errUnknownMode, cfg.mode)
	}
}

type app struct {
	cfg           *config
	loggerFactory pionlogging.LoggerFactory
	dashboard     *stats.Server
	rdv           *rendezvous.Client
	closers       []func() error
}

func (a *app) cleanup() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}
}

// engineOptions assembles the rtc engine options shared by the offerer
// and loopback modes: packet logs, dashboard hook, logger factory.
func (a *app) engineOptions(ctx context.Context) ([]rtc.Option, error) {
	opts := []rtc.Option{rtc.SetLoggerFactory(a.loggerFactory)}

	if a.cfg.rtpLog != "" {
		w, err := logging.GetLogFile(a.cfg.rtpLog)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		opts = append(opts, rtc.RTPLogWriter(w))
	}
	if a.cfg.ccLog != "" {
		w, err := logging.GetLogFile(a.cfg.ccLog)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, w.Close)
		opts = append(opts, rtc.CCLogWriter(w))
	}
	if a.cfg.statsAddr != "" {
		a.dashboard = stats.NewServer()
		go func() {
			if err := a.dashboard.ListenAndServe(ctx, a.cfg.statsAddr); err != nil {
				log.Printf("stats server: %v", err)
			}
		}()
		opts = append(opts, rtc.TargetBitrateHook(func(bitrate int) {
			a.dashboard.Record("target", float64(bitrate))
		}))
	}

	return opts, nil
}

func (a *app) newEngine(ctx context.Context) (engine.Engine, error) {
	switch a.cfg.engine {
	case "stub":
		return engine.NewStub(engine.StubLoggerFactory(a.loggerFactory))
	case "rtc":
		opts, err := a.engineOptions(ctx)
		if err != nil {
			return nil, err
		}

		return rtc.NewEngine(opts...)
	default:
		return nil, fmt.Errorf("%w: unknown engine %s", errUnknownMode, a.cfg.engine)
	}
}

func (a *app) runChecklist(ctx context.Context) error {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return err
	}

	c, err := client.New(eng, client.SetLoggerFactory(a.loggerFactory))
	if err != nil {
		return err
	}

	return c.Run(ctx)
}

// runOfferer sets up the sending side, exchanges SDP with the remote
// peer and streams synthetic media until the context is canceled.
func (a *app) runOfferer(ctx context.Context) error {
	opts, err := a.engineOptions(ctx)
	if err != nil {
		return err
	}
	eng, err := rtc.NewEngine(opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, eng.Close)

	if err = eng.CreatePeerConnection(); err != nil {
		return err
	}
	if err = eng.AddVideoStream(); err != nil {
		return err
	}
	if err = eng.AddAudioStream(); err != nil {
		return err
	}
	if err = eng.StartVideoCapture(); err != nil {
		return err
	}

	if a.cfg.server != "" {
		if err = a.signalViaRendezvous(ctx, eng); err != nil {
			return err
		}
	} else if err = eng.SignalHTTP(ctx, a.cfg.addr, "sdp"); err != nil {
		return err
	}

	err = eng.Start(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return err
}

// signalViaRendezvous exchanges offer and answer through the
// sign_in/wait/message protocol instead of a direct HTTP POST.
func (a *app) signalViaRendezvous(ctx context.Context, eng *rtc.Engine) error {
	peers, cleanup, err := a.signIn(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	target, err := waitForPeer(ctx, a.rdv, peers)
	if err != nil {
		return err
	}

	offer, err := eng.CreateOffer()
	if err != nil {
		return err
	}
	offerJSON, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	if err = a.rdv.SendToPeer(ctx, target, string(offerJSON)); err != nil {
		return err
	}

	for {
		from, data, err := a.rdv.Wait(ctx)
		if err != nil {
			return err
		}
		if from != target {
			continue
		}
		var answer webrtc.SessionDescription
		if err = json.Unmarshal([]byte(data), &answer); err != nil {
			return err
		}
		if answer.Type != webrtc.SDPTypeAnswer {
			continue
		}

		return eng.AcceptAnswer(&answer)
	}
}

func (a *app) signIn(ctx context.Context) ([]rendezvous.Peer, func(), error) {
	rdv, err := rendezvous.NewClient(a.cfg.server,
		rendezvous.ClientLoggerFactory(a.loggerFactory))
	if err != nil {
		return nil, nil, err
	}

	peers, err := rdv.SignIn(ctx, a.cfg.name)
	if err != nil {
		return nil, nil, err
	}
	a.rdv = rdv

	cleanup := func() {
		signOutCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := rdv.SignOut(signOutCtx); err != nil {
			log.Printf("sign out: %v", err)
		}
	}

	return peers, cleanup, nil
}

// waitForPeer returns the id of the first remote peer, polling the
// rendezvous roster notifications until one signs in.
func waitForPeer(ctx context.Context, rdv *rendezvous.Client, peers []rendezvous.Peer) (int, error) {
	if len(peers) > 0 {
		return peers[0].ID, nil
	}

	for {
		from, data, err := rdv.Wait(ctx)
		if err != nil {
			return 0, err
		}
		// Roster notifications arrive addressed from our own id.
		if from != rdv.ID() {
			continue
		}
		peer, err := rendezvous.ParseRosterLine(data)
		if err != nil || peer.ID == rdv.ID() || !peer.Connected {
			continue
		}

		return peer.ID, nil
	}
}

// runAnswerer sets up the receiving side and answers incoming offers.
func (a *app) runAnswerer(ctx context.Context) error {
	opts := []rtc.ReceiverOption{rtc.ReceiverLoggerFactory(a.loggerFactory)}
	if a.cfg.save != "" {
		opts = append(opts, rtc.SaveVideo(a.cfg.save))
	}
	if a.cfg.rtpLog != "" {
		w, err := logging.GetLogFile(a.cfg.rtpLog)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, w.Close)
		opts = append(opts, rtc.PacketLogWriter(w, w))
	}

	recv, err := rtc.NewReceiver(opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, recv.Close)

	if a.cfg.server != "" {
		return a.answerViaRendezvous(ctx, recv)
	}

	server := &http.Server{
		Addr:              a.cfg.addr,
		Handler:           recv.SDPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		if err := server.Close(); err != nil {
			log.Printf("close server: %v", err)
		}
	}()

	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func (a *app) answerViaRendezvous(ctx context.Context, recv *rtc.Receiver) error {
	_, cleanup, err := a.signIn(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	for {
		from, data, err := a.rdv.Wait(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			return err
		}
		if from == a.rdv.ID() {
			continue // roster notification
		}
		var offer webrtc.SessionDescription
		if err = json.Unmarshal([]byte(data), &offer); err != nil || offer.Type != webrtc.SDPTypeOffer {
			continue
		}

		if err = recv.SetupPeerConnection(); err != nil {
			return err
		}
		answer, err := recv.AcceptOffer(&offer)
		if err != nil {
			return err
		}
		answerJSON, err := json.Marshal(answer)
		if err != nil {
			return err
		}
		if err = a.rdv.SendToPeer(ctx, from, string(answerJSON)); err != nil {
			return err
		}
	}
}

// runLoopback connects an engine and a receiver in-process and streams
// between them for the configured duration.
func (a *app) runLoopback(ctx context.Context) error {
	opts, err := a.engineOptions(ctx)
	if err != nil {
		return err
	}
	eng, err := rtc.NewEngine(opts...)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, eng.Close)

	recv, err := rtc.NewReceiver(rtc.ReceiverLoggerFactory(a.loggerFactory))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, recv.Close)

	if err = eng.CreatePeerConnection(); err != nil {
		return err
	}
	if err = eng.AddVideoStream(); err != nil {
		return err
	}
	if err = eng.AddAudioStream(); err != nil {
		return err
	}
	if err = eng.StartVideoCapture(); err != nil {
		return err
	}
	if err = recv.SetupPeerConnection(); err != nil {
		return err
	}

	offer, err := eng.CreateOffer()
	if err != nil {
		return err
	}
	answer, err := recv.AcceptOffer(offer)
	if err != nil {
		return err
	}
	if err = eng.AcceptAnswer(answer); err != nil {
		return err
	}

	err = eng.Start(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}

	return err
}

func main() {
	if err := realMain(); err != nil {
		log.Fatal(err)
	}
}
