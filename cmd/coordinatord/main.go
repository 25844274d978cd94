// Copyright (C) 2024 The ShardSQL Authors.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Command coordinatord runs one node of a cluster: it accepts inbound
// phase requests from peer nodes over transport, and constructs
// Sessions (the client-facing entry point of this package) wired to
// the local jobexec.Runner/transport.Dispatcher. Wiring a client-facing
// wire protocol onto Session is out of scope ("wire-format byte
// layouts" is excluded); this binary exercises Session directly, the
// way cmd/snellerd's run_daemon.go wires one *server and serves it.
package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("c", "coordinatord.yaml", "path to the node config file")
	listenOverride := flag.String("l", "", "override the config file's listen address")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.Lshortfile)

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		logger.Fatal(err)
	}
	if *listenOverride != "" {
		cfg.Listen = *listenOverride
	}

	coord, err := newCoordinator(cfg, logger)
	if err != nil {
		logger.Fatal(err)
	}
	defer coord.dispatcher.Close()

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		logger.Fatal(err)
	}

	go func() {
		if err := coord.serveTransport(ln); err != nil {
			logger.Printf("transport server stopped: %s", err)
		}
	}()

	c := make(chan os.Signal, 1)
	// SIGKILL/SIGQUIT are not caught; Ctrl+C or a plain `kill` drain
	// in-flight requests before exiting.
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	shutdown(ctx, ln, coord)
}

// shutdown closes the listener, then waits up to ctx's deadline for
// every pool this node owns to finish its queued work; a pool that
// hasn't drained by the deadline is left running so the process can
// still exit.
func shutdown(ctx context.Context, ln net.Listener, coord *coordinator) {
	ln.Close()
	done := make(chan struct{})
	go func() {
		for _, pool := range coord.pools {
			pool.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		coord.logger.Printf("shutdown: %s before pools finished draining", ctx.Err())
	}
}
