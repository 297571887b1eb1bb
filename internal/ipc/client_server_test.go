package ipc

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ownerSocket(t *testing.T) (string, net.Listener) {
	t.Helper()
	path := filepath.Join(t.TempDir(), socketName)
	listener, err := net.Listen("unix", path)
	require.NoError(t, err)
	return path, listener
}

func TestSendReturnsJobSnapshot(t *testing.T) {
	socketPath, listener := ownerSocket(t)
	serveOwner(t, listener, func(_ context.Context, req Request) Response {
		if req.Command != CommandStatus {
			return Response{Error: "unexpected " + req.Command}
		}
		return Response{OK: true, State: "running", Source: "/inbox/standup.m4a", Percent: 37}
	})

	resp, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.Active())
	require.Equal(t, "running", resp.State)
	require.Equal(t, 37, resp.Percent)
}

func TestSendReportsMalformedOwnerReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  string
	}{
		{name: "not json", reply: "not-json\n", want: "decode response"},
		{name: "hang up", reply: "", want: "read response"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			socketPath, listener := ownerSocket(t)
			t.Cleanup(func() { _ = listener.Close() })

			go func() {
				conn, err := listener.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				_, _ = bufio.NewReader(conn).ReadBytes('\n')
				_, _ = conn.Write([]byte(tc.reply))
			}()

			_, err := Send(context.Background(), socketPath, Request{Command: CommandStatus}, 200*time.Millisecond)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestServeAnswersGarbageWithError(t *testing.T) {
	socketPath, listener := ownerSocket(t)
	serveOwner(t, listener, func(context.Context, Request) Response { return Response{OK: true} })

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not-json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, readMessage(conn, "response", &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "decode request")
}

func TestProbeTracksOwnerLifetime(t *testing.T) {
	socketPath, listener := ownerSocket(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, listener, HandlerFunc(func(context.Context, Request) Response {
			return Response{OK: true, State: "idle"}
		}))
	}()

	alive, err := Probe(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)

	cancel()
	require.NoError(t, <-done)

	alive, err = Probe(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}

func TestForwardStatusAndCancel(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), socketName)

	resp, handled, err := Forward(context.Background(), socketPath, CommandStatus, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, handled, "no owner means idle")
	require.Equal(t, Response{}, resp)

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	serveOwner(t, listener, func(_ context.Context, req Request) Response {
		if req.Command == CommandStatus {
			return Response{OK: true, State: "running", Source: "/tmp/a.mp3", Percent: 42}
		}
		return Response{OK: false, State: "idle", Error: "no active job"}
	})

	resp, handled, err = Forward(context.Background(), socketPath, CommandStatus, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, handled)
	require.Equal(t, 42, resp.Percent)
	require.Equal(t, "/tmp/a.mp3", resp.Source)

	_, handled, err = Forward(context.Background(), socketPath, CommandCancel, 200*time.Millisecond)
	require.True(t, handled)
	require.EqualError(t, err, "no active job")
}

func TestServeRejectsUnknownCommandBeforeHandler(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "kiroku.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	called := false
	serveOwner(t, listener, func(context.Context, Request) Response {
		called = true
		return Response{OK: true}
	})

	resp, err := Send(context.Background(), socketPath, Request{Command: "pause"}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command: pause")

	resp, err = Send(context.Background(), socketPath, Request{}, 200*time.Millisecond)
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "unknown command: empty")
	require.False(t, called)
}

func TestServeTimesOutSilentClient(t *testing.T) {
	previous := requestTimeout
	requestTimeout = 50 * time.Millisecond
	t.Cleanup(func() { requestTimeout = previous })

	socketPath := filepath.Join(t.TempDir(), "kiroku.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	serveOwner(t, listener, func(context.Context, Request) Response {
		return Response{OK: true}
	})

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var resp Response
	require.NoError(t, readMessage(conn, "response", &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, "read request")
}

func TestServeRejectsOversizedRequest(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "kiroku.sock")
	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	serveOwner(t, listener, func(context.Context, Request) Response {
		return Response{OK: true}
	})

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	payload := `{"command":"` + strings.Repeat("x", maxMessageBytes) + "\"}\n"
	go func() { _, _ = conn.Write([]byte(payload)) }()

	var resp Response
	require.NoError(t, readMessage(conn, "response", &resp))
	require.False(t, resp.OK)
	require.Contains(t, resp.Error, ErrMessageTooLarge.Error())
}

func TestForwardRejectsUnknownCommandLocally(t *testing.T) {
	_, handled, err := Forward(context.Background(), filepath.Join(t.TempDir(), "kiroku.sock"), "pause", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrUnknownCommand)
	require.False(t, handled)
}

func TestResponseActive(t *testing.T) {
	require.True(t, Response{OK: true, State: "running", Source: "/inbox/a.mp3"}.Active())
	require.False(t, Response{OK: true, State: "idle"}.Active())
	require.False(t, Response{OK: false, Source: "/inbox/a.mp3"}.Active())
}
