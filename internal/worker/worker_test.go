package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) records(t *testing.T) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func findRecord(recs []map[string]any, stream, contains string) map[string]any {
	for _, r := range recs {
		msg, _ := r["message"].(string)
		if r["stream"] == stream && strings.Contains(msg, contains) {
			return r
		}
	}
	return nil
}

func TestSpecArgs(t *testing.T) {
	spec := Spec{Executable: "python", Script: "/app/backend/app/main.py", Port: 51234}
	assert.Equal(t, []string{"/app/backend/app/main.py", "--port", "51234"}, spec.Args())
}

func TestForward_TagsStream(t *testing.T) {
	var buf syncBuffer
	log := zerolog.New(&buf)
	out := NewOutput(10)

	forward(strings.NewReader("ready\n"), StreamStdout, 7, log, out)
	forward(strings.NewReader("bind failed\r\n"), StreamStderr, 7, log, out)

	recs := buf.records(t)
	require.Len(t, recs, 2)

	assert.Equal(t, "stdout", recs[0]["stream"])
	assert.Contains(t, recs[0]["message"], "ready")
	assert.Equal(t, "info", recs[0]["level"])

	assert.Equal(t, "stderr", recs[1]["stream"])
	assert.Equal(t, "bind failed", recs[1]["message"])
	assert.Equal(t, "warn", recs[1]["level"])

	lines := out.Lines(-1)
	require.Len(t, lines, 2)
	assert.Equal(t, "ready", lines[0].Text)
	assert.Equal(t, []string{"bind failed"}, out.Tail(StreamStderr, 5))
}

func TestForward_NoTrailingNewline(t *testing.T) {
	var buf syncBuffer
	forward(strings.NewReader("a\nb"), StreamStdout, 1, zerolog.New(&buf), nil)
	assert.Len(t, buf.records(t), 2)
}

func TestOutput_Tail(t *testing.T) {
	out := NewOutput(10)
	for i, s := range []string{"e1", "o1", "e2", "e3"} {
		stream := StreamStderr
		if s[0] == 'o' {
			stream = StreamStdout
		}
		out.Add(Line{Stream: stream, Text: s, PID: i})
	}
	assert.Equal(t, []string{"e2", "e3"}, out.Tail(StreamStderr, 2))
	assert.Equal(t, []string{"o1"}, out.Tail(StreamStdout, 5))
}

func TestResolvePaths(t *testing.T) {
	app := t.TempDir()
	exe := filepath.Join(app, DefaultExecutable())
	script := filepath.Join(app, DefaultScript())

	_, _, err := ResolvePaths(app, "", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.MkdirAll(filepath.Dir(exe), 0o755))
	require.NoError(t, os.WriteFile(exe, nil, 0o755))

	_, _, err = ResolvePaths(app, "", "")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "main.py")

	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0o755))
	require.NoError(t, os.WriteFile(script, nil, 0o644))

	gotExe, gotScript, err := ResolvePaths(app, "", "")
	require.NoError(t, err)
	assert.Equal(t, exe, gotExe)
	assert.Equal(t, script, gotScript)
}

func TestResolvePaths_Overrides(t *testing.T) {
	app := t.TempDir()
	other := t.TempDir()
	absExe := filepath.Join(other, "python3")
	require.NoError(t, os.WriteFile(absExe, nil, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "server.py"), nil, 0o644))

	gotExe, gotScript, err := ResolvePaths(app, absExe, "server.py")
	require.NoError(t, err)
	assert.Equal(t, absExe, gotExe)
	assert.Equal(t, filepath.Join(app, "server.py"), gotScript)
}

func TestResolvePaths_Directory(t *testing.T) {
	app := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(app, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(app, "main.py"), nil, 0o644))

	_, _, err := ResolvePaths(app, "bin", "main.py")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecSpawner_ForwardsOutput(t *testing.T) {
	var buf syncBuffer
	out := NewOutput(50)
	spawner := NewExecSpawner(zerolog.New(&buf), out)

	proc, err := spawner.Spawn(context.Background(), helperSpec("echo"))
	require.NoError(t, err)
	assert.Positive(t, proc.PID())

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not exit")
	}

	assert.False(t, proc.Running())
	assert.NoError(t, proc.Err())

	recs := buf.records(t)
	ready := findRecord(recs, "stdout", "ready")
	require.NotNil(t, ready)
	assert.Equal(t, "worker", ready["component"])

	args := findRecord(recs, "stdout", "args=")
	require.NotNil(t, args)
	assert.Contains(t, args["message"], "main.py --port 8123")

	assert.NotNil(t, findRecord(recs, "stderr", "debug build"))
	assert.Len(t, out.Tail(StreamStdout, 10), 2)
}

func TestExecSpawner_ExitError(t *testing.T) {
	spawner := NewExecSpawner(zerolog.Nop(), NewOutput(10))

	proc, err := spawner.Spawn(context.Background(), helperSpec("fail"))
	require.NoError(t, err)
	<-proc.Done()

	assert.Error(t, proc.Err())
	assert.Equal(t, []string{"Traceback: boom"}, spawner.Output().Tail(StreamStderr, 1))
}

func TestExecSpawner_MissingExecutable(t *testing.T) {
	spawner := NewExecSpawner(zerolog.Nop(), nil)

	_, err := spawner.Spawn(context.Background(), Spec{
		Executable: filepath.Join(t.TempDir(), "missing"),
		Script:     "main.py",
		Port:       1,
	})
	assert.Error(t, err)
}

func TestExecSpawner_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExecSpawner(zerolog.Nop(), nil).Spawn(ctx, helperSpec("echo"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProcess_Stop(t *testing.T) {
	spawner := NewExecSpawner(zerolog.Nop(), nil)
	proc, err := spawner.Spawn(context.Background(), helperSpec("sleep"))
	require.NoError(t, err)
	assert.True(t, proc.Running())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, proc.Stop(ctx))

	assert.False(t, proc.Running())
	assert.NoError(t, proc.Stop(ctx), "stopping twice is a no-op")
}

func TestProcess_StopEscalatesToKill(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("termination is already a kill on windows")
	}
	var buf syncBuffer
	spawner := NewExecSpawner(zerolog.New(&buf), nil)
	proc, err := spawner.Spawn(context.Background(), helperSpec("ignore-term"))
	require.NoError(t, err)

	// Wait until the helper has installed its signal handler.
	require.Eventually(t, func() bool {
		return findRecord(buf.records(t), "stdout", "serving") != nil
	}, 10*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, proc.Stop(ctx))
	assert.False(t, proc.Running())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func countTicks(out *Output) int {
	n := 0
	for _, l := range out.Tail(StreamStdout, 1<<20) {
		if l == "tick" {
			n++
		}
	}
	return n
}

// requireTicksStop fails unless the ticking child stops writing.
func requireTicksStop(t *testing.T, out *Output) {
	t.Helper()
	require.Eventually(t, func() bool {
		before := countTicks(out)
		time.Sleep(200 * time.Millisecond)
		return countTicks(out) == before
	}, 10*time.Second, 10*time.Millisecond, "child process still writing output")
}

func TestProcess_DoneWhileChildHoldsOutput(t *testing.T) {
	out := NewOutput(10000)
	spawner := NewExecSpawner(zerolog.Nop(), out)

	proc, err := spawner.Spawn(context.Background(), helperSpec("spawn-child"))
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("Done not closed after the worker exited")
	}
	assert.False(t, proc.Running())
	assert.NoError(t, proc.Err())

	requireTicksStop(t, out)
}

func TestProcess_StopKillsChildren(t *testing.T) {
	out := NewOutput(10000)
	spawner := NewExecSpawner(zerolog.Nop(), out)

	proc, err := spawner.Spawn(context.Background(), helperSpec("spawn-child-stay"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return countTicks(out) > 0 && len(out.Tail(StreamStdout, 1<<20)) > countTicks(out)
	}, 10*time.Second, 20*time.Millisecond, "worker and child did not start")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.NoError(t, proc.Stop(ctx))
	assert.Less(t, time.Since(start), killWait+time.Second)
	assert.False(t, proc.Running())

	requireTicksStop(t, out)
}
