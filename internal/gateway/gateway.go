// Package gateway terminates the browser websockets and assembles a
// session engine per connection: SSH terminal, SFTP file manager, or
// guacd remote desktop, selected by URL path.
package gateway

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/auth"
	"github.com/rjsadow/drawbridge/internal/backend"
	"github.com/rjsadow/drawbridge/internal/config"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/files"
	"github.com/rjsadow/drawbridge/internal/guacamole"
	"github.com/rjsadow/drawbridge/internal/terminal"
	"github.com/rjsadow/drawbridge/internal/wire"
)

// Client-facing connection errors. Kept byte-identical for the frontend.
const (
	msgConnectFail     = "connection fail..."
	msgAccountInvalid  = "account is invalid, connection fail... "
	msgUnauthenticated = "authentication failed"
)

// Config carries every collaborator the gateway needs. All of them are
// explicit; the gateway holds no global state.
type Config struct {
	Settings  *config.Config
	Auth      auth.Authenticator
	Directory directory.Lookup
	Blocklist directory.Blocklist
	Audit     audit.Sink
	Replays   terminal.ReplayUploader
	Poller    *guacamole.Poller
	Counter   Counter
	Limiter   *RateLimiter
}

// App is the websocket gateway.
type App struct {
	cfg      Config
	upgrader websocket.Upgrader
}

// New assembles a gateway from its collaborators.
func New(cfg Config) *App {
	if cfg.Counter == nil {
		cfg.Counter = NewGaugeCounter()
	}
	return &App{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The browser client runs on a different origin than the API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler exposes the websocket endpoints and the health probe.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/terminal/", a.handleTerminal)
	mux.HandleFunc("/ws/file/", a.handleFile)
	mux.HandleFunc("/ws/guacd/", a.handleGuacd)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

// Online reports the current session gauge.
func (a *App) Online() int64 { return a.cfg.Counter.Value() }

// accept runs the steps every endpoint shares: rate limit, upgrade,
// authenticate, parse and resolve the asset/account pair. A non-nil error
// means the websocket is already closed (or was never opened).
func (a *App) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, directory.Principal, *directory.Asset, *directory.Account, error) {
	if a.cfg.Limiter != nil && !a.cfg.Limiter.Allow(clientIP(r)) {
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return nil, directory.Principal{}, nil, nil, errors.New("rate limited")
	}

	ws, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, directory.Principal{}, nil, nil, err
	}

	principal, err := a.cfg.Auth.Authenticate(r)
	if err != nil {
		a.refuse(ws, msgUnauthenticated)
		return nil, directory.Principal{}, nil, nil, err
	}

	assetID, err1 := strconv.ParseInt(r.URL.Query().Get("asset_id"), 10, 64)
	accountID, err2 := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err1 != nil || err2 != nil {
		a.refuse(ws, msgConnectFail)
		return nil, directory.Principal{}, nil, nil, errors.New("bad asset/account query")
	}

	asset, account, err := a.cfg.Directory.AssetAccount(r.Context(), assetID, accountID)
	if err != nil {
		if errors.Is(err, directory.ErrAccountInactive) {
			a.refuse(ws, msgAccountInvalid)
		} else {
			a.refuse(ws, msgConnectFail)
		}
		return nil, directory.Principal{}, nil, nil, err
	}
	return ws, principal, asset, account, nil
}

// refuse sends one error frame and closes the websocket.
func (a *App) refuse(ws *websocket.Conn, message string) {
	ws.WriteMessage(websocket.TextMessage, wire.Marshal(wire.Error, message))
	ws.Close()
}

func (a *App) handleTerminal(w http.ResponseWriter, r *http.Request) {
	ws, principal, asset, account, err := a.accept(w, r)
	if err != nil {
		return
	}
	connID := uuid.NewString()

	shell, err := backend.DialSSH(asset, account)
	if err != nil {
		log.Printf("gateway %s: ssh dial failed: %v", connID, err)
		a.refuse(ws, msgConnectFail)
		return
	}

	blocklist, err := a.cfg.Blocklist.Snapshot(r.Context())
	if err != nil {
		log.Printf("gateway %s: blocklist snapshot failed: %v", connID, err)
		blocklist = map[string]struct{}{}
	}

	sess, err := terminal.NewSession(ws, shell, a.cfg.Settings.RecordRoot, terminal.Config{
		Principal: principal,
		Asset:     asset,
		Account:   account,
		Blocklist: blocklist,
		Audit:     a.cfg.Audit,
		Replays:   a.cfg.Replays,
	})
	if err != nil {
		log.Printf("gateway %s: recorder open failed: %v", connID, err)
		shell.Close()
		a.refuse(ws, msgConnectFail)
		return
	}

	a.cfg.Counter.Incr()
	defer a.cfg.Counter.Decr()
	defer sess.Close()
	log.Printf("gateway %s: terminal session %s open for user %s", connID, sess.Tag(), principal.Username)

	go sess.Run(context.Background())

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !sess.HandleClientText(string(data)) {
			return
		}
	}
}

func (a *App) handleFile(w http.ResponseWriter, r *http.Request) {
	ws, principal, asset, account, err := a.accept(w, r)
	if err != nil {
		return
	}
	connID := uuid.NewString()

	fc, err := backend.DialSFTP(asset, account, a.cfg.Settings.RemoteFileHome)
	if err != nil {
		log.Printf("gateway %s: sftp dial failed: %v", connID, err)
		a.refuse(ws, msgConnectFail)
		return
	}

	sess := files.NewSession(ws, fc, files.Config{
		Principal: principal,
		Asset:     asset,
		Account:   account,
		Audit:     a.cfg.Audit,
	})

	a.cfg.Counter.Incr()
	defer a.cfg.Counter.Decr()
	defer sess.Close()
	log.Printf("gateway %s: file session %s open for user %s", connID, sess.Tag(), principal.Username)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			sess.HandleControl(data)
		case websocket.BinaryMessage:
			sess.HandleBinary(data)
		}
	}
}

func (a *App) handleGuacd(w http.ResponseWriter, r *http.Request) {
	ws, principal, asset, account, err := a.accept(w, r)
	if err != nil {
		return
	}
	connID := uuid.NewString()

	if asset.Protocol != directory.ProtocolRDP && asset.Protocol != directory.ProtocolVNC {
		log.Printf("gateway %s: asset %d is %s, not a desktop protocol", connID, asset.ID, asset.Protocol)
		a.refuse(ws, msgConnectFail)
		return
	}

	width := r.URL.Query().Get("width")
	if width == "" {
		width = strconv.Itoa(a.cfg.Settings.ScreenWidth)
	}
	height := r.URL.Query().Get("height")
	if height == "" {
		height = strconv.Itoa(a.cfg.Settings.ScreenHeight)
	}

	conn, err := backend.DialGuacd(a.cfg.Settings.GuacdAddr())
	if err != nil {
		log.Printf("gateway %s: guacd dial failed: %v", connID, err)
		a.refuse(ws, msgConnectFail)
		return
	}

	err = guacamole.Handshake(conn, guacamole.HandshakeParams{
		Protocol:      string(asset.Protocol),
		Hostname:      asset.IP,
		Port:          strconv.Itoa(asset.Port),
		Username:      account.Username,
		Password:      account.Password,
		Width:         width,
		Height:        height,
		RecordingPath: a.cfg.Settings.ReplayDir,
	})
	if err != nil {
		log.Printf("gateway %s: guacd handshake failed: %v", connID, err)
		conn.Close()
		a.refuse(ws, msgConnectFail)
		return
	}

	sess := guacamole.NewSession(ws, conn, a.cfg.Poller)
	if err := sess.Start(); err != nil {
		log.Printf("gateway %s: poller registration failed: %v", connID, err)
		sess.Close()
		return
	}

	a.cfg.Counter.Incr()
	defer a.cfg.Counter.Decr()
	defer sess.Close()
	log.Printf("gateway %s: guacd session open for user %s asset %d", connID, principal.Username, asset.ID)

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage {
			sess.HandleClientText(data)
		}
	}
}
