// Package capproto defines the wire protocol shared by the unprivileged
// devenv client and the privileged devenv-capd server: length-prefixed JSON
// frames over an inherited socketpair, grounded on devenv-caps/src/lib/protocol
// (not kept in this pack, inferred from server.rs/client.rs's Request/Response
// shapes) and framed the way the teacher's own boxer.go/mux_server.go encode
// JSON over a connection — a 4-byte big-endian length prefix ahead of the
// payload, since a raw AF_UNIX socketpair (unlike the teacher's HTTP-over-
// unix-socket) has no framing of its own.
package capproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame so a misbehaving peer can't force an
// unbounded allocation.
const MaxFrameSize = 1 << 20

// RequestKind discriminates the Request sum type.
type RequestKind string

const (
	RequestLaunch   RequestKind = "launch"
	RequestSignal   RequestKind = "signal"
	RequestPoll     RequestKind = "poll"
	RequestShutdown RequestKind = "shutdown"
)

// Request is the flattened client->server message (spec.md §4.E).
type Request struct {
	Kind RequestKind `json:"kind"`

	// Launch
	ID         string            `json:"id,omitempty"`
	Caps       []string          `json:"caps,omitempty"`
	Command    string            `json:"command,omitempty"`
	Args       []string          `json:"args,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`

	// Signal
	PID    int64 `json:"pid,omitempty"`
	Signal int   `json:"signal,omitempty"`
}

// ResponseKind discriminates the Response sum type.
type ResponseKind string

const (
	ResponseLaunched ResponseKind = "launched"
	ResponseExited   ResponseKind = "exited"
	ResponseOk       ResponseKind = "ok"
	ResponseError    ResponseKind = "error"
)

// ExitReason distinguishes a normal exit from death by signal.
type ExitReason string

const (
	ExitExited   ExitReason = "exited"
	ExitSignaled ExitReason = "signaled"
)

// ExitedProcess reports one child's terminal state, returned in bulk by Poll.
type ExitedProcess struct {
	PID    int64      `json:"pid"`
	Reason ExitReason `json:"reason"`
	Code   int        `json:"code"` // exit code, or signal number when Reason == ExitSignaled
}

// Response is the flattened server->client message.
type Response struct {
	Kind ResponseKind `json:"kind"`

	PID       int64           `json:"pid,omitempty"`
	Processes []ExitedProcess `json:"processes,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// WriteMessage frames v as a 4-byte big-endian length prefix followed by its
// JSON encoding.
func WriteMessage(w io.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("capproto: marshal: %w", err)
	}
	if len(payload) > MaxFrameSize {
		return fmt.Errorf("capproto: frame too large: %d bytes", len(payload))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("capproto: write header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("capproto: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame and unmarshals it into v.
func ReadMessage(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return fmt.Errorf("capproto: frame too large: %d bytes", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("capproto: read payload: %w", err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("capproto: unmarshal: %w", err)
	}
	return nil
}
