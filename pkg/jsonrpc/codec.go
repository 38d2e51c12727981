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

package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Message is a decoded inbound frame. A frame with a non-empty Method is a
// server-initiated request or notification; otherwise it is a response.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// IsResponse reports whether the message is a response frame.
func (m *Message) IsResponse() bool {
	return m.Method == ""
}

// ParseError indicates an inbound line could not be decoded as JSON-RPC.
type ParseError struct {
	// Line is the offending input, truncated for logging
	Line string

	// Cause is the underlying JSON error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed jsonrpc frame: %v", e.Cause)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// maxLoggedLine bounds how much of a malformed frame is retained in errors.
const maxLoggedLine = 256

// Framer encodes and decodes newline-delimited JSON-RPC frames over a byte
// stream. It performs no correlation, no retries, and no reconnection.
//
// WriteMessage is not safe for concurrent use; the owning connection must
// serialize writers so frames cannot interleave on the pipe.
type Framer struct {
	w io.Writer
	r *bufio.Reader
}

// NewFramer creates a framer reading from r and writing to w.
func NewFramer(r io.Reader, w io.Writer) *Framer {
	return &Framer{
		w: w,
		r: bufio.NewReader(r),
	}
}

// WriteMessage marshals msg and writes it as a single line.
func (f *Framer) WriteMessage(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if _, err := f.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// ReadMessage reads one line and decodes it. It blocks until a full line is
// available or the stream fails. A syntactically invalid line is reported as
// a *ParseError; callers decide whether that is fatal for the stream.
func (f *Framer) ReadMessage() (*Message, error) {
	line, err := f.r.ReadBytes('\n')
	if err != nil {
		// A partial line before EOF is still undeliverable
		return nil, err
	}

	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		// Blank keep-alive lines are tolerated; read the next frame
		return f.ReadMessage()
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		truncated := string(line)
		if len(truncated) > maxLoggedLine {
			truncated = truncated[:maxLoggedLine]
		}
		return nil, &ParseError{Line: truncated, Cause: err}
	}

	return &msg, nil
}
