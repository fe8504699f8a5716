// SPDX-License-Identifier: MIT

// Package main runs the rendezvous server that relays signaling
// messages between demo clients.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"rtcdemo/logging"
	rendezvous "rtcdemo/signal"
)

func realMain() error {
	port := flag.Int("port", 8888, "Port to listen on")
	waitTimeout := flag.Duration("wait-timeout", 30*time.Second, "Long poll timeout for /wait")
	logLevel := flag.String("log", "info", "Log level (disable/error/warn/info/debug/trace)")
	flag.Parse()

	loggerFactory, err := logging.NewLoggerFactory(*logLevel)
	if err != nil {
		return err
	}
	logger := loggerFactory.NewLogger("signaling_server")

	srv, err := rendezvous.NewServer(
		rendezvous.WaitTimeout(*waitTimeout),
		rendezvous.ServerLoggerFactory(loggerFactory),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(*port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	logger.Infof("Listening on %s", server.Addr)
	err = server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

func main() {
	if err := realMain(); err != nil {
		log.Fatal(err)
	}
}
