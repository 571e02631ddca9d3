// Package audit defines the audit records the gateway emits — command logs,
// blocklist hits, file operations and replay uploads — together with the
// Sink seam the session engines submit them through. Submission is
// fire-and-forget: the user-facing flow never waits on audit persistence.
package audit

import (
	"context"
	"time"

	"github.com/rjsadow/drawbridge/internal/wire"
)

// Command records the reconstructed command line of a finished terminal
// session (or its in-progress remainder at close).
type Command struct {
	Tag       string    `json:"name"`
	Command   string    `json:"command"`
	AssetID   int64     `json:"asset_id"`
	AccountID int64     `json:"account_id"`
	UserID    int64     `json:"user_id"`
	Duration  int64     `json:"duration"` // seconds
	At        time.Time `json:"date_joined"`
}

// BlockedCommand records a high-risk command attempt. One record is emitted
// per matched blocklist token.
type BlockedCommand struct {
	Match         string    `json:"key"`
	Raw           string    `json:"raw_command"`
	AssetHostname string    `json:"asset_hostname"`
	AccountName   string    `json:"account_name"`
	Username      string    `json:"user_name"`
	At            time.Time `json:"date_joined"`
}

// FileOperation records an SFTP file-manager action.
type FileOperation struct {
	Tag        string      `json:"name"`
	OriginPath string      `json:"origin_path"`
	TargetPath string      `json:"target_path"`
	Filename   string      `json:"filename"`
	Op         wire.FileOp `json:"operate_type"`
	AccountID  int64       `json:"operator_id"`
	AssetID    int64       `json:"asset_id"`
	UserID     int64       `json:"user_id"`
	FileSize   int64       `json:"file_size"`
	At         time.Time   `json:"date_joined"`
}

// Replay records an uploaded session replay and its storage URL.
type Replay struct {
	Tag       string    `json:"name"`
	Filename  string    `json:"filename"`
	URL       string    `json:"video_path"`
	AccountID int64     `json:"account_id"`
	AssetID   int64     `json:"asset_id"`
	UserID    int64     `json:"user_id"`
	At        time.Time `json:"date_joined"`
}

// Sink receives audit records. Implementations must not block the caller for
// longer than a channel hand-off; persistence failures are logged, never
// surfaced to sessions.
type Sink interface {
	SubmitCommand(ctx context.Context, rec Command)
	SubmitBlocked(ctx context.Context, rec BlockedCommand)
	SubmitFileOperation(ctx context.Context, rec FileOperation)
	SubmitReplay(ctx context.Context, rec Replay)
}
