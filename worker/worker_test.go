package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/pyhost/bridge"
	"github.com/caffeineduck/pyhost/channel"
	"github.com/caffeineduck/pyhost/mounts"
)

// the empty wasm module: header and version, no sections. It compiles and
// instantiates without running anything, which is all these tests need.
var emptyModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

func spawnHost(t *testing.T, opts ...Option) *channel.Channel {
	t.Helper()
	rwc := Spawn(context.Background(), opts...)
	ch := channel.New(rwc)
	ch.Listen()
	t.Cleanup(func() { ch.Close() })
	return ch
}

func initialize(t *testing.T, ch *channel.Channel, pythonRoot string) {
	t.Helper()
	raw, err := ch.SendRequest(context.Background(), channel.MethodInitialize, channel.InitializeParams{
		PythonRepository: "/cache/pyhost",
		PythonRoot:       pythonRoot,
		Binary:           emptyModule,
	})
	require.NoError(t, err)

	var result channel.InitializeResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.True(t, result.OK)
}

// sink is a character device that accepts and discards all I/O.
type sink struct{}

func (sink) Read(p []byte) (int, error)  { select {} }
func (sink) Write(p []byte) (int, error) { return len(p), nil }

func TestInitializePublishesPathMappings(t *testing.T) {
	workspace := t.TempDir()
	ch := spawnHost(t, WithWorkspace(workspace))

	mapped := make(chan mounts.PathMapping, 4)
	ch.OnNotification(channel.MethodPathMappings, func(params json.RawMessage) {
		var p struct {
			Mapping mounts.PathMapping `json:"mapping"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		mapped <- p.Mapping
	})

	pythonRoot := t.TempDir()
	initialize(t, ch, pythonRoot)

	want := map[string]string{
		GuestPythonRoot: pythonRoot,
		GuestWorkspace:  workspace,
	}
	for i := 0; i < 2; i++ {
		select {
		case m := <-mapped:
			assert.Equal(t, want[m.MountPoint], m.WorkerRoot)
			delete(want, m.MountPoint)
		case <-time.After(time.Second):
			t.Fatal("path mapping notification not delivered")
		}
	}
	assert.Empty(t, want)
}

func TestExecuteFileCompletes(t *testing.T) {
	ch := spawnHost(t, WithWorkspace(t.TempDir()))
	initialize(t, ch, t.TempDir())

	conn, port := bridge.NewSyncConnection()
	defer conn.Close()
	conn.RegisterCharacterDevice(sink{}, true)
	conn.SignalReady()

	raw, err := ch.SendRequest(context.Background(), channel.MethodExecuteFile, channel.ExecuteFileParams{
		SyncPort: string(port),
		File:     "main.py",
	})
	require.NoError(t, err)

	var result channel.RunResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Equal(t, 0, result.ExitCode)
}

func TestRunBeforeInitializeFailsChannel(t *testing.T) {
	ch := spawnHost(t)

	_, err := ch.SendRequest(context.Background(), channel.MethodExecuteFile, channel.ExecuteFileParams{
		SyncPort: "whatever",
		File:     "main.py",
	})
	require.Error(t, err)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not close on ordering violation")
	}
}

func TestDuplicateInitializeFailsChannel(t *testing.T) {
	ch := spawnHost(t)
	initialize(t, ch, t.TempDir())

	_, err := ch.SendRequest(context.Background(), channel.MethodInitialize, channel.InitializeParams{
		Binary: emptyModule,
	})
	require.Error(t, err)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not close on duplicate initialize")
	}
}

func TestExecuteFileUnknownPort(t *testing.T) {
	ch := spawnHost(t)
	initialize(t, ch, t.TempDir())

	_, err := ch.SendRequest(context.Background(), channel.MethodExecuteFile, channel.ExecuteFileParams{
		SyncPort: "no-such-port",
		File:     "main.py",
	})
	var workerErr *channel.WorkerError
	require.ErrorAs(t, err, &workerErr)

	// An unknown port is a request failure, not a channel failure.
	select {
	case <-ch.Done():
		t.Fatal("channel closed on unknown port")
	default:
	}
}

func TestExecuteFileUnwiredPort(t *testing.T) {
	ch := spawnHost(t)
	initialize(t, ch, t.TempDir())

	// A real port, but the host never registered a console on it.
	conn, port := bridge.NewSyncConnection()
	defer conn.Close()

	_, err := ch.SendRequest(context.Background(), channel.MethodExecuteFile, channel.ExecuteFileParams{
		SyncPort: string(port),
		File:     "main.py",
	})
	var workerErr *channel.WorkerError
	require.ErrorAs(t, err, &workerErr)

	select {
	case <-ch.Done():
		t.Fatal("channel closed on unwired port")
	default:
	}
}

func TestDebugFileUnwiredPort(t *testing.T) {
	ch := spawnHost(t)
	initialize(t, ch, t.TempDir())

	conn, port := bridge.NewSyncConnection()
	defer conn.Close()

	_, err := ch.SendRequest(context.Background(), channel.MethodDebugFile, channel.DebugFileParams{
		SyncPort:   string(port),
		File:       "main.py",
		Terminator: "(Pdb)",
	})
	var workerErr *channel.WorkerError
	require.ErrorAs(t, err, &workerErr)
}

func TestRunReplUnwiredPort(t *testing.T) {
	ch := spawnHost(t)
	initialize(t, ch, t.TempDir())

	conn, port := bridge.NewSyncConnection()
	defer conn.Close()

	_, err := ch.SendRequest(context.Background(), channel.MethodRunRepl, channel.RunReplParams{
		SyncPort: string(port),
	})
	var workerErr *channel.WorkerError
	require.ErrorAs(t, err, &workerErr)
}

func TestSecondRunRequestFailsChannel(t *testing.T) {
	ch := spawnHost(t, WithWorkspace(t.TempDir()))
	initialize(t, ch, t.TempDir())

	conn, port := bridge.NewSyncConnection()
	defer conn.Close()
	conn.RegisterCharacterDevice(sink{}, true)
	conn.SignalReady()

	_, err := ch.SendRequest(context.Background(), channel.MethodExecuteFile, channel.ExecuteFileParams{
		SyncPort: string(port),
		File:     "main.py",
	})
	require.NoError(t, err)

	_, err = ch.SendRequest(context.Background(), channel.MethodRunRepl, channel.RunReplParams{
		SyncPort: "another-port",
	})
	require.Error(t, err)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not close on second run request")
	}
}
