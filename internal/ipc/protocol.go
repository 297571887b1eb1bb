// Package ipc carries status and cancel requests to the process that owns the
// running transcription job, over a newline-delimited JSON unix socket.
package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Commands understood by the job owner.
const (
	CommandStatus = "status"
	CommandCancel = "cancel"
)

// maxMessageBytes bounds one request or response line.
const maxMessageBytes = 16 * 1024

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

type Request struct {
	Command string `json:"command"`
}

// Validate rejects commands the owner does not implement.
func (r Request) Validate() error {
	switch r.Command {
	case CommandStatus, CommandCancel:
		return nil
	case "":
		return fmt.Errorf("%w: empty", ErrUnknownCommand)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownCommand, r.Command)
	}
}

// Response carries the owner's job snapshot. Percent and Source are set
// only while a job is active.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Source  string `json:"source,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Active reports whether the snapshot describes a running job.
func (r Response) Active() bool {
	return r.OK && r.Source != ""
}

func failure(format string, args ...any) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

func writeMessage(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// readMessage decodes one newline-terminated JSON line of at most
// maxMessageBytes. kind names the message in errors.
func readMessage(r io.Reader, kind string, v any) error {
	reader := bufio.NewReader(io.LimitReader(r, maxMessageBytes+1))
	line, err := reader.ReadBytes('\n')
	if len(line) > maxMessageBytes {
		return fmt.Errorf("read %s: %w", kind, ErrMessageTooLarge)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}
	if err := json.Unmarshal(line, v); err != nil {
		return fmt.Errorf("decode %s: %w", kind, err)
	}
	return nil
}
