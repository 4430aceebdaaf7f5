package listener

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twistedxcom/agent-island/internal/state"
	"github.com/twistedxcom/agent-island/internal/transcript"
)

func startServer(t *testing.T) (string, *state.Processor) {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "island.sock")
	proc := state.New(transcript.New(t.TempDir()), state.NewBroadcaster())
	srv := New(sock, proc)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Run(ctx)

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)
	return sock, proc
}

func send(t *testing.T, sock, payload string) {
	t.Helper()
	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
}

func TestServerProcessesNotification(t *testing.T) {
	sock, proc := startServer(t)

	send(t, sock, `{"session_id":"s1","cwd":"/work/demo","event":"beforeSubmitPrompt","status":"processing","agent_type":"claude"}`)

	require.Eventually(t, func() bool {
		_, ok := proc.Session("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	snap, _ := proc.Session("s1")
	assert.Equal(t, state.PhaseProcessing, snap.Phase)
	assert.Equal(t, "demo", snap.DisplayName)
}

func TestServerIgnoresMalformedPayloads(t *testing.T) {
	sock, proc := startServer(t)

	send(t, sock, "this is not json")
	send(t, sock, `{"event":"stop"}`)
	send(t, sock, `{"session_id":"s1","event":"stop","status":"waiting_for_input"}`)

	require.Eventually(t, func() bool {
		_, ok := proc.Session("s1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, proc.Sessions(), 1)
}

func TestServerHandlesInterrupt(t *testing.T) {
	sock, proc := startServer(t)

	send(t, sock, `{"session_id":"s1","event":"preToolUse","status":"running_tool","tool":"Bash","tool_use_id":"t-1"}`)
	require.Eventually(t, func() bool {
		snap, ok := proc.Session("s1")
		return ok && len(snap.Items) == 1
	}, 2*time.Second, 10*time.Millisecond)

	send(t, sock, `{"session_id":"s1","event":"interrupt"}`)
	require.Eventually(t, func() bool {
		snap, _ := proc.Session("s1")
		return len(snap.Items) == 1 && snap.Items[0].Tool.Status == state.ToolInterrupted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerReplacesStaleSocket(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "island.sock")

	// Leave a stale socket behind, as a crashed daemon would.
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	proc := state.New(transcript.New(t.TempDir()), state.NewBroadcaster())
	srv := New(sock, proc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		conn, err := net.Dial("unix", sock)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
