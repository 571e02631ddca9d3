package terminal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/wire"
)

type captureSink struct {
	mu       sync.Mutex
	commands []audit.Command
	blocked  []audit.BlockedCommand
	fileOps  []audit.FileOperation
	replays  []audit.Replay
}

func (c *captureSink) SubmitCommand(_ context.Context, rec audit.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commands = append(c.commands, rec)
}

func (c *captureSink) SubmitBlocked(_ context.Context, rec audit.BlockedCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked = append(c.blocked, rec)
}

func (c *captureSink) SubmitFileOperation(_ context.Context, rec audit.FileOperation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileOps = append(c.fileOps, rec)
}

func (c *captureSink) SubmitReplay(_ context.Context, rec audit.Replay) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replays = append(c.replays, rec)
}

type fakeShell struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakeShell() *fakeShell {
	pr, pw := io.Pipe()
	return &fakeShell{pr: pr, pw: pw}
}

func (f *fakeShell) Read(p []byte) (int, error) { return f.pr.Read(p) }

func (f *fakeShell) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.Write(p)
}

func (f *fakeShell) Tag() string { return "alice_web-1_20260301103000" }

func (f *fakeShell) Close() error {
	f.pr.Close()
	f.pw.Close()
	return nil
}

func (f *fakeShell) emit(t *testing.T, s string) {
	t.Helper()
	if _, err := f.pw.Write([]byte(s)); err != nil {
		t.Fatalf("emit %q: %v", s, err)
	}
}

func (f *fakeShell) sent() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written.String()
}

type fakeWS struct {
	mu     sync.Mutex
	frames []wire.Frame
	closed bool
}

func (w *fakeWS) WriteMessage(_ int, data []byte) error {
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWS) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *fakeWS) snapshot() ([]wire.Frame, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wire.Frame(nil), w.frames...), w.closed
}

type fakeUploader struct {
	mu    sync.Mutex
	paths []string
	tags  []string
}

func (u *fakeUploader) Upload(_ context.Context, localPath, tag string, assetID, accountID, userID int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, localPath)
	u.tags = append(u.tags, tag)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startSession(t *testing.T, blocklist map[string]struct{}, idle time.Duration) (*Session, *fakeWS, *fakeShell, *captureSink, *fakeUploader) {
	t.Helper()
	ws := &fakeWS{}
	shell := newFakeShell()
	sink := &captureSink{}
	up := &fakeUploader{}

	sess, err := NewSession(ws, shell, t.TempDir(), Config{
		Principal: directory.Principal{UserID: 3, Username: "alice"},
		Asset:     &directory.Asset{ID: 1, Hostname: "web-1", IP: "10.0.0.5", Port: 22},
		Account:   &directory.Account{ID: 2, Name: "deploy", Username: "root"},
		Blocklist: blocklist,
		Audit:     sink,
		Replays:   up,
		Idle:      idle,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	go sess.Run(context.Background())
	t.Cleanup(sess.Close)
	return sess, ws, shell, sink, up
}

func TestSessionForwardsInputAndAuditsBlocklist(t *testing.T) {
	sess, _, shell, sink, _ := startSession(t, map[string]struct{}{"rm": {}, "shutdown": {}}, 0)

	if !sess.HandleClientText("rm -rf /") {
		t.Fatal("HandleClientText returned false on live session")
	}
	waitFor(t, "shell input", func() bool { return shell.sent() == "rm -rf /\n" })

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.blocked) != 1 {
		t.Fatalf("got %d blocked records, want 1", len(sink.blocked))
	}
	rec := sink.blocked[0]
	if rec.Match != "rm" || rec.Raw != "rm -rf /" {
		t.Errorf("blocked record = %+v, want match rm on raw command", rec)
	}
	if rec.AssetHostname != "web-1" || rec.AccountName != "deploy" || rec.Username != "alice" {
		t.Errorf("blocked record identity = %+v", rec)
	}
}

func TestSessionInputKeepsExistingNewline(t *testing.T) {
	sess, _, shell, _, _ := startSession(t, nil, 0)

	sess.HandleClientText("ls -a\n")
	waitFor(t, "shell input", func() bool { return shell.sent() == "ls -a\n" })
}

func TestSessionSuppressesCommandEcho(t *testing.T) {
	sess, ws, shell, _, _ := startSession(t, nil, 0)

	sess.HandleClientText("ls -a\n")
	waitFor(t, "shell input", func() bool { return shell.sent() == "ls -a\n" })

	shell.emit(t, "ls -a\r\n")   // command echo, swallowed
	shell.emit(t, "total 0\r\n") // real output, forwarded

	waitFor(t, "output frame", func() bool {
		frames, _ := ws.snapshot()
		return len(frames) >= 1
	})
	frames, _ := ws.snapshot()
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want echo suppressed and one output frame", len(frames))
	}
	if frames[0].Code != wire.Text || frames[0].Message != "total 0\r\n" {
		t.Errorf("frame = %+v, want Text total 0", frames[0])
	}
}

func TestSessionIdleDisconnect(t *testing.T) {
	_, ws, _, _, _ := startSession(t, nil, 50*time.Millisecond)

	waitFor(t, "idle close", func() bool {
		_, closed := ws.snapshot()
		return closed
	})
	frames, _ := ws.snapshot()
	if len(frames) != 1 || frames[0].Code != wire.Error || frames[0].Message != idleMessage {
		t.Errorf("frames = %+v, want one idle error frame", frames)
	}
}

func TestSessionShellEOFCloses(t *testing.T) {
	_, ws, shell, _, _ := startSession(t, nil, 0)

	shell.pw.Close()
	waitFor(t, "close on EOF", func() bool {
		_, closed := ws.snapshot()
		return closed
	})
}

func TestSessionCloseFinalizesCommandAndUploads(t *testing.T) {
	sess, ws, shell, sink, up := startSession(t, nil, 0)

	sess.HandleClientText("half-typed")
	waitFor(t, "shell input", func() bool { return shell.sent() == "half-typed\n" })

	sess.Close()

	sink.mu.Lock()
	if len(sink.commands) != 1 {
		t.Fatalf("got %d command records, want 1", len(sink.commands))
	}
	cmd := sink.commands[0]
	sink.mu.Unlock()
	if cmd.Command != "half-typed" {
		t.Errorf("command = %q, want half-typed", cmd.Command)
	}
	if cmd.Tag != sess.Tag() || cmd.AssetID != 1 || cmd.AccountID != 2 || cmd.UserID != 3 {
		t.Errorf("command identity = %+v", cmd)
	}

	up.mu.Lock()
	defer up.mu.Unlock()
	if len(up.paths) != 1 || up.paths[0] != sess.rec.Path() {
		t.Errorf("uploads = %q, want the cast file", up.paths)
	}
	if _, closed := ws.snapshot(); !closed {
		t.Error("websocket not closed")
	}

	if sess.HandleClientText("late") {
		t.Error("HandleClientText should report closed session")
	}
}

func TestSessionCloseRacesClientInput(t *testing.T) {
	sess, _, _, sink, _ := startSession(t, nil, 0)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			if !sess.HandleClientText("typing") {
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	sess.Close()
	close(stop)
	<-done

	if sess.HandleClientText("after close") {
		t.Error("HandleClientText should report closed session")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.commands) > 1 {
		t.Errorf("got %d command records after close, want at most 1", len(sink.commands))
	}
}
