package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/rjsadow/drawbridge/internal/audit"
	"github.com/rjsadow/drawbridge/internal/auth"
	"github.com/rjsadow/drawbridge/internal/config"
	"github.com/rjsadow/drawbridge/internal/directory"
	"github.com/rjsadow/drawbridge/internal/guacamole"
	"github.com/rjsadow/drawbridge/internal/wire"
)

type fakeDirectory struct {
	asset   *directory.Asset
	account *directory.Account
	err     error
}

func (f *fakeDirectory) AssetAccount(_ context.Context, _, _ int64) (*directory.Asset, *directory.Account, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.asset, f.account, nil
}

type fakeBlocklist struct{}

func (fakeBlocklist) Snapshot(context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type nullSink struct{}

func (nullSink) SubmitCommand(context.Context, audit.Command)             {}
func (nullSink) SubmitBlocked(context.Context, audit.BlockedCommand)      {}
func (nullSink) SubmitFileOperation(context.Context, audit.FileOperation) {}
func (nullSink) SubmitReplay(context.Context, audit.Replay)               {}

const testSecret = "gateway-test-secret"

func newTestApp(t *testing.T, dir directory.Lookup, limiter *RateLimiter) (*App, *httptest.Server) {
	t.Helper()
	settings := &config.Config{
		JWTSecret:      testSecret,
		RecordRoot:     t.TempDir(),
		RemoteFileHome: "/home/jms",
		ScreenWidth:    800,
		ScreenHeight:   600,
		GuacdHost:      "127.0.0.1",
		GuacdPort:      4822,
	}

	app := New(Config{
		Settings:  settings,
		Auth:      auth.NewJWTAuthenticator(testSecret),
		Directory: dir,
		Blocklist: fakeBlocklist{},
		Audit:     nullSink{},
		Poller:    guacamole.NewPoller(),
		Limiter:   limiter,
	})
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return app, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func issueToken(t *testing.T) string {
	t.Helper()
	token, err := auth.NewJWTAuthenticator(testSecret).IssueToken(
		directory.Principal{UserID: 3, Username: "alice"}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return token
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var f wire.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("frame %q does not parse: %v", data, err)
	}
	return f
}

func TestHealthz(t *testing.T) {
	_, srv := newTestApp(t, &fakeDirectory{}, nil)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestUnauthenticatedGetsErrorFrame(t *testing.T) {
	_, srv := newTestApp(t, &fakeDirectory{}, nil)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/terminal/?asset_id=1&account_id=2"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Code != wire.Error || f.Message != "authentication failed" {
		t.Errorf("frame = %+v", f)
	}
}

func TestMissingQueryGetsConnectFail(t *testing.T) {
	_, srv := newTestApp(t, &fakeDirectory{}, nil)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/terminal/?token="+issueToken(t)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Code != wire.Error || f.Message != "connection fail..." {
		t.Errorf("frame = %+v", f)
	}
}

func TestLookupFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{"asset not found", directory.ErrAssetNotFound, "connection fail..."},
		{"account not found", directory.ErrAccountNotFound, "connection fail..."},
		{"account inactive", directory.ErrAccountInactive, "account is invalid, connection fail... "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newTestApp(t, &fakeDirectory{err: tt.err}, nil)

			conn, _, err := websocket.DefaultDialer.Dial(
				wsURL(srv, "/ws/file/?asset_id=1&account_id=2&token="+issueToken(t)), nil)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer conn.Close()

			f := readFrame(t, conn)
			if f.Code != wire.Error || f.Message != tt.message {
				t.Errorf("frame = %+v, want message %q", f, tt.message)
			}
		})
	}
}

func TestGuacdRejectsShellAssets(t *testing.T) {
	dir := &fakeDirectory{
		asset:   &directory.Asset{ID: 1, IP: "10.0.0.9", Port: 22, Protocol: directory.ProtocolSSH},
		account: &directory.Account{ID: 2, Username: "root", IsActive: true},
	}
	_, srv := newTestApp(t, dir, nil)

	conn, _, err := websocket.DefaultDialer.Dial(
		wsURL(srv, "/ws/guacd/?asset_id=1&account_id=2&token="+issueToken(t)), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	f := readFrame(t, conn)
	if f.Code != wire.Error || f.Message != "connection fail..." {
		t.Errorf("frame = %+v", f)
	}
}

func TestRateLimitRejectsBeforeUpgrade(t *testing.T) {
	_, srv := newTestApp(t, &fakeDirectory{}, NewRateLimiter(rate.Limit(0), 0))

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/terminal/"), nil)
	if err == nil {
		t.Fatal("dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("response = %+v, want 429", resp)
	}
}

func TestGaugeCounter(t *testing.T) {
	g := NewGaugeCounter()
	g.Incr()
	g.Incr()
	g.Decr()
	if got := g.Value(); got != 1 {
		t.Errorf("value = %d, want 1", got)
	}
}
