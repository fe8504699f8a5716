// SPDX-License-Identifier: MIT

// Package main runs the peer connection checklist against the stub
// engine, narrating each library call it would make.
package main

import (
	"context"
	"flag"
	"log"

	"rtcdemo/client"
	"rtcdemo/engine"
	"rtcdemo/logging"
)

func realMain() error {
	logLevel := flag.String("log", "error", "Log level (disable/error/warn/info/debug/trace)")
	flag.Parse()

	loggerFactory, err := logging.NewLoggerFactory(*logLevel)
	if err != nil {
		return err
	}

	stub, err := engine.NewStub(engine.StubLoggerFactory(loggerFactory))
	if err != nil {
		return err
	}

	c, err := client.New(stub, client.SetLoggerFactory(loggerFactory))
	if err != nil {
		return err
	}

	return c.Run(context.Background())
}

func main() {
	if err := realMain(); err != nil {
		log.Fatal(err)
	}
}
