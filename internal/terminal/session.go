package terminal

import (
	"context"
	"io"
	"log"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/backend"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/wire"
)

// idleMessage is shown when the shell produced no output for the idle window.
const idleMessage = "由于长时间没有操作，连接已断开!"

// shellChunkSize is the read size for shell output. Chunk boundaries are
// visible in the recording and in echo suppression, so it stays fixed.
const shellChunkSize = 1024

// ClientConn is the websocket surface a terminal session writes to.
type ClientConn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ShellConn is the backend shell a terminal session proxies.
type ShellConn interface {
	io.ReadWriteCloser
	Tag() string
}

// ReplayUploader stores a finished cast file and records the upload.
type ReplayUploader interface {
	Upload(ctx context.Context, localPath, tag string, assetID, accountID, userID int64)
}

// Config carries the collaborators a terminal session needs. Everything is
// passed in explicitly; the session owns no global state.
type Config struct {
	Principal directory.Principal
	Asset     *directory.Asset
	Account   *directory.Account
	Blocklist map[string]struct{}
	Audit     audit.Sink
	Replays   ReplayUploader

	// Idle overrides the disconnect window for silent shells.
	// Zero means backend.IdleTimeout.
	Idle time.Duration
}

// Session proxies one websocket client to one SSH shell. All mutable state
// (the line reconstructor, the idle timer) is confined to the Run goroutine,
// including the close-time finalization; client input and shell output reach
// it through channels, and Close only signals the loop and waits.
type Session struct {
	cfg   Config
	ws    ClientConn
	shell ShellConn
	rec   *Recorder
	recon Reconstructor
	start time.Time
	tag   string

	input  chan string
	chunks chan string

	closeOnce sync.Once
	done      chan struct{}
	finished  chan struct{}
}

// NewSession wires a client connection to a shell and opens the recording.
func NewSession(ws ClientConn, shell ShellConn, recordRoot string, cfg Config) (*Session, error) {
	start := time.Now()
	rec, err := NewRecorder(recordRoot, cfg.Principal.Username, cfg.Asset.IP, start)
	if err != nil {
		return nil, err
	}
	return &Session{
		cfg:      cfg,
		ws:       ws,
		shell:    shell,
		rec:      rec,
		start:    start,
		tag:      shell.Tag(),
		input:    make(chan string, 8),
		chunks:   make(chan string, 8),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}, nil
}

// Tag identifies this session in audit records.
func (s *Session) Tag() string { return s.tag }

// HandleClientText queues one client payload for the session loop. It
// returns false once the session has closed. The closed check comes first:
// a buffered input slot must not outrank the done signal.
func (s *Session) HandleClientText(payload string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.input <- payload:
		return true
	case <-s.done:
		return false
	}
}

// Run drives the session until the shell closes, the idle window elapses,
// the context is canceled, or Close is called. Finalization always runs
// here, on the loop's own goroutine.
func (s *Session) Run(ctx context.Context) {
	defer s.finalize()
	go s.pump()

	window := s.cfg.Idle
	if window == 0 {
		window = backend.IdleTimeout
	}
	idle := time.NewTimer(window)
	defer idle.Stop()

	for {
		select {
		case payload := <-s.input:
			if !s.handleInput(payload) {
				return
			}
		case chunk, ok := <-s.chunks:
			if !ok {
				return
			}
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(window)
			if !s.handleChunk(chunk) {
				return
			}
		case <-idle.C:
			s.ws.WriteMessage(websocket.TextMessage, wire.Marshal(wire.Error, idleMessage))
			s.rec.Write("\n" + idleMessage)
			return
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

// pump moves shell output into the session loop in fixed-size chunks.
func (s *Session) pump() {
	buf := make([]byte, shellChunkSize)
	for {
		n, err := s.shell.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- string(buf[:n]):
			case <-s.done:
				return
			}
		}
		if err != nil {
			close(s.chunks)
			return
		}
	}
}

// handleInput audits blocklist hits, forwards the payload to the shell with
// a trailing newline, and feeds the raw token to the line reconstructor.
// Blocked commands are audited but still forwarded. A false return ends the
// session loop.
func (s *Session) handleInput(payload string) bool {
	parts := strings.Split(payload, " ")
	for key := range s.cfg.Blocklist {
		if slices.Contains(parts, key) {
			s.cfg.Audit.SubmitBlocked(context.Background(), audit.BlockedCommand{
				Match:         key,
				Raw:           payload,
				AssetHostname: s.cfg.Asset.Hostname,
				AccountName:   s.cfg.Account.Name,
				Username:      s.cfg.Principal.Username,
			})
		}
	}

	forward := payload
	if !strings.HasSuffix(forward, "\n") {
		forward += "\n"
	}
	if _, err := s.shell.Write([]byte(forward)); err != nil {
		log.Printf("terminal %s: shell write failed: %v", s.tag, err)
		return false
	}
	s.recon.Feed(payload)
	return true
}

// handleChunk routes one shell output chunk: completion and history echoes
// are absorbed into the reconstructor, command echoes are swallowed, and
// everything else goes to the client and the recording. A false return ends
// the session loop.
func (s *Session) handleChunk(chunk string) bool {
	stripped := strings.TrimSpace(chunk)
	if stripped != "" && strings.Contains(s.recon.Current, stripped+"\n") {
		// Local echo of a just-sent line: no frame, no recording, and the
		// pending completion/history flags stay armed for the real output.
		return true
	}

	if err := s.ws.WriteMessage(websocket.TextMessage, wire.Marshal(wire.Text, chunk)); err != nil {
		log.Printf("terminal %s: client write failed: %v", s.tag, err)
		return false
	}
	s.rec.Write(chunk)

	if s.recon.TabPending {
		s.recon.AbsorbTab(chunk)
	}
	if s.recon.HistoryPending {
		s.recon.AbsorbHistory(chunk)
	}
	return true
}

// signal marks the session closed so HandleClientText and pump stop.
func (s *Session) signal() {
	s.closeOnce.Do(func() { close(s.done) })
}

// finalize runs once when the Run loop exits: the in-progress command line
// is finalized to the audit sink, editor noise is redacted from the history,
// the recording is flushed and handed to the replay uploader, and both ends
// are closed.
func (s *Session) finalize() {
	s.signal()

	if strings.TrimSpace(s.recon.Current) != "" {
		s.cfg.Audit.SubmitCommand(context.Background(), audit.Command{
			Tag:       s.tag,
			Command:   s.recon.Current,
			AssetID:   s.cfg.Asset.ID,
			AccountID: s.cfg.Account.ID,
			UserID:    s.cfg.Principal.UserID,
			Duration:  int64(time.Since(s.start).Seconds()),
		})
	}
	s.recon.History = RedactEditorSession(s.recon.History)

	s.shell.Close()
	if err := s.rec.Close(); err != nil {
		log.Printf("terminal %s: failed to close recording: %v", s.tag, err)
	}
	if s.cfg.Replays != nil {
		s.cfg.Replays.Upload(context.Background(), s.rec.Path(), s.tag,
			s.cfg.Asset.ID, s.cfg.Account.ID, s.cfg.Principal.UserID)
	}
	s.ws.Close()
	close(s.finished)
}

// Close stops the session and blocks until finalization has run. Run must
// have been started; the gateway handler guarantees that ordering.
func (s *Session) Close() {
	s.signal()
	<-s.finished
}
