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

// Package echoserver implements a minimal MCP tool server speaking
// newline-delimited JSON-RPC over stdio. It exposes a ping tool and an echo
// tool, plus fault-injection options for exercising the pool's failure
// paths: delayed responses, duplicated responses, responses with fabricated
// ids, hung handshakes, and early exits.
package echoserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Options controls the server's behavior.
type Options struct {
	// ServerName is reported in the initialize result.
	ServerName string

	// ResponseDelay delays every response by this duration.
	ResponseDelay time.Duration

	// HangHandshake makes the server read the initialize request and then
	// never answer it.
	HangHandshake bool

	// DuplicateResponses makes the server send every response twice.
	DuplicateResponses bool

	// EmitStaleID makes the server respond with id+1000 instead of the
	// request id, so no pending request ever matches.
	EmitStaleID bool

	// ExitAfter makes the server exit abruptly after answering this many
	// requests. Zero means never.
	ExitAfter int

	// LingerOnEOF makes the server block forever after stdin closes
	// instead of exiting, simulating a process that must be killed.
	LingerOnEOF bool
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string       `json:"jsonrpc"`
	ID      int64        `json:"id"`
	Result  any          `json:"result,omitempty"`
	Error   *errorObject `json:"error,omitempty"`
}

type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type readParams struct {
	URI string `json:"uri"`
}

const noteURI = "echo://note"

// Run serves requests from r until EOF. Responses go to w, diagnostics to
// stderr.
func Run(r io.Reader, w io.Writer, opts Options) error {
	if opts.ServerName == "" {
		opts.ServerName = "echoserver"
	}

	fmt.Fprintf(os.Stderr, "echoserver %q started pid=%d\n", opts.ServerName, os.Getpid())

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	answered := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		if err := json.Unmarshal(line, &req); err != nil {
			fmt.Fprintf(os.Stderr, "echoserver: dropping unparseable line: %v\n", err)
			continue
		}

		if req.ID == nil {
			// Notification: nothing to answer
			continue
		}

		if req.Method == "initialize" && opts.HangHandshake {
			fmt.Fprintln(os.Stderr, "echoserver: hanging handshake")
			continue
		}

		resp := handle(&req, opts)

		if opts.ResponseDelay > 0 {
			time.Sleep(opts.ResponseDelay)
		}
		if opts.EmitStaleID {
			resp.ID += 1000
		}

		if err := writeResponse(w, resp); err != nil {
			return err
		}
		if opts.DuplicateResponses {
			if err := writeResponse(w, resp); err != nil {
				return err
			}
		}

		answered++
		if opts.ExitAfter > 0 && answered >= opts.ExitAfter {
			fmt.Fprintf(os.Stderr, "echoserver: exiting after %d requests\n", answered)
			return nil
		}
	}

	if opts.LingerOnEOF {
		fmt.Fprintln(os.Stderr, "echoserver: lingering after EOF")
		select {}
	}
	return scanner.Err()
}

func writeResponse(w io.Writer, resp *response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

func handle(req *request, opts Options) *response {
	resp := &response{JSONRPC: "2.0", ID: *req.ID}

	switch req.Method {
	case "initialize":
		resp.Result = map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools":     map[string]any{},
				"resources": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    opts.ServerName,
				"version": "1.0.0",
			},
		}

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		resp.Result = map[string]any{
			"tools": []map[string]any{
				{
					"name":        "ping",
					"description": "Returns a pong",
					"inputSchema": map[string]any{"type": "object"},
				},
				{
					"name":        "echo",
					"description": "Echoes back the text argument",
					"inputSchema": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"text": map[string]any{"type": "string"},
						},
						"required": []string{"text"},
					},
				},
			},
		}

	case "tools/call":
		var params callParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &errorObject{Code: -32602, Message: "invalid params"}
			break
		}
		switch params.Name {
		case "ping":
			resp.Result = toolText(`{"pong":true}`)
		case "echo":
			text, ok := params.Arguments["text"].(string)
			if !ok {
				resp.Error = &errorObject{Code: -32602, Message: "echo requires a string text argument"}
				break
			}
			resp.Result = toolText(text)
		case "fail":
			// Tool-level failure: reported in the result, not the error
			resp.Result = map[string]any{
				"content": []map[string]any{{"type": "text", "text": "something went wrong"}},
				"isError": true,
			}
		default:
			resp.Error = &errorObject{
				Code:    -32602,
				Message: fmt.Sprintf("unknown tool: %s", params.Name),
			}
		}

	case "resources/list":
		resp.Result = map[string]any{
			"resources": []map[string]any{
				{
					"uri":      noteURI,
					"name":     "note",
					"mimeType": "text/plain",
				},
			},
		}

	case "resources/read":
		var params readParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.URI != noteURI {
			resp.Error = &errorObject{Code: -32602, Message: "unknown resource"}
			break
		}
		resp.Result = map[string]any{
			"contents": []map[string]any{
				{
					"uri":      noteURI,
					"mimeType": "text/plain",
					"text":     "a note from echoserver",
				},
			},
		}

	default:
		resp.Error = &errorObject{
			Code:    -32601,
			Message: fmt.Sprintf("method not found: %s", req.Method),
		}
	}

	return resp
}

func toolText(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
	}
}
