// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// mcpool-echo is a standalone MCP echo server for manual testing of the
// pool. It speaks newline-delimited JSON-RPC on stdin/stdout and logs to
// stderr. Flags inject faults so degraded and stuck-process behavior can be
// reproduced by hand.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/mcpool/internal/echoserver"
)

func main() {
	var (
		name       = flag.String("name", "mcpool-echo", "server name reported in the handshake")
		delay      = flag.Duration("delay", 0, "delay every response by this duration")
		hang       = flag.Bool("hang-handshake", false, "never answer the initialize request")
		duplicate  = flag.Bool("duplicate-responses", false, "send every response twice")
		staleID    = flag.Bool("stale-id", false, "respond with a fabricated request id")
		exitAfter  = flag.Int("exit-after", 0, "exit abruptly after answering this many requests (0 = never)")
		ignoreTerm = flag.Bool("ignore-term", false, "ignore SIGTERM so only SIGKILL stops the process")
		linger     = flag.Bool("linger", false, "block forever after stdin closes instead of exiting")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *ignoreTerm {
		signal.Ignore(syscall.SIGTERM)
		logger.Info("ignoring SIGTERM")
	}

	opts := echoserver.Options{
		ServerName:         *name,
		ResponseDelay:      *delay,
		HangHandshake:      *hang,
		DuplicateResponses: *duplicate,
		EmitStaleID:        *staleID,
		ExitAfter:          *exitAfter,
		LingerOnEOF:        *linger,
	}

	if err := echoserver.Run(os.Stdin, os.Stdout, opts); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
