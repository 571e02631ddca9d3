package audit

import (
	"context"
	"log"
	"time"

	"github.com/uptrace/bun"
)

// commandRow is the persisted form of a Command record.
type commandRow struct {
	bun.BaseModel `bun:"table:command_logs"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Tag       string    `bun:"name,notnull"`
	Command   string    `bun:"command,notnull"`
	AssetID   int64     `bun:"asset_id,notnull"`
	AccountID int64     `bun:"account_id,notnull"`
	UserID    int64     `bun:"user_id,notnull"`
	Duration  int64     `bun:"duration"`
	At        time.Time `bun:"date_joined,nullzero,notnull,default:current_timestamp"`
}

type blockedRow struct {
	bun.BaseModel `bun:"table:black_command_logs"`

	ID            int64     `bun:"id,pk,autoincrement"`
	Match         string    `bun:"key,notnull"`
	Raw           string    `bun:"raw_command,notnull"`
	AssetHostname string    `bun:"asset_hostname"`
	AccountName   string    `bun:"account_name"`
	Username      string    `bun:"user_name"`
	At            time.Time `bun:"date_joined,nullzero,notnull,default:current_timestamp"`
}

type fileOpRow struct {
	bun.BaseModel `bun:"table:file_operate_logs"`

	ID         int64     `bun:"id,pk,autoincrement"`
	Tag        string    `bun:"name,notnull"`
	OriginPath string    `bun:"origin_path"`
	TargetPath string    `bun:"target_path"`
	Filename   string    `bun:"filename,notnull"`
	Op         int       `bun:"operate_type,notnull"`
	AccountID  int64     `bun:"operator_id,notnull"`
	AssetID    int64     `bun:"asset_id,notnull"`
	UserID     int64     `bun:"user_id,notnull"`
	FileSize   int64     `bun:"file_size"`
	At         time.Time `bun:"date_joined,nullzero,notnull,default:current_timestamp"`
}

type replayRow struct {
	bun.BaseModel `bun:"table:video_playbacks"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Tag       string    `bun:"name,notnull"`
	Filename  string    `bun:"filename,notnull"`
	URL       string    `bun:"video_path,notnull"`
	AccountID int64     `bun:"account_id,notnull"`
	AssetID   int64     `bun:"asset_id,notnull"`
	UserID    int64     `bun:"user_id,notnull"`
	At        time.Time `bun:"date_joined,nullzero,notnull,default:current_timestamp"`
}

// Store persists audit records with bun. It is the terminal Sink behind an
// AsyncSink; write failures are logged and swallowed.
type Store struct {
	db *bun.DB
}

// NewStore creates a Store over an existing bun handle (typically shared
// with the directory store).
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Init creates the audit tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	models := []interface{}{
		(*commandRow)(nil),
		(*blockedRow)(nil),
		(*fileOpRow)(nil),
		(*replayRow)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// SubmitCommand persists a command log record.
func (s *Store) SubmitCommand(ctx context.Context, rec Command) {
	row := &commandRow{
		Tag: rec.Tag, Command: rec.Command,
		AssetID: rec.AssetID, AccountID: rec.AccountID, UserID: rec.UserID,
		Duration: rec.Duration, At: stamp(rec.At),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		log.Printf("audit: failed to persist command log: %v", err)
	}
}

// SubmitBlocked persists a blocklist hit record.
func (s *Store) SubmitBlocked(ctx context.Context, rec BlockedCommand) {
	row := &blockedRow{
		Match: rec.Match, Raw: rec.Raw,
		AssetHostname: rec.AssetHostname, AccountName: rec.AccountName,
		Username: rec.Username, At: stamp(rec.At),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		log.Printf("audit: failed to persist blocked-command log: %v", err)
	}
}

// SubmitFileOperation persists a file operation record.
func (s *Store) SubmitFileOperation(ctx context.Context, rec FileOperation) {
	row := &fileOpRow{
		Tag: rec.Tag, OriginPath: rec.OriginPath, TargetPath: rec.TargetPath,
		Filename: rec.Filename, Op: int(rec.Op),
		AccountID: rec.AccountID, AssetID: rec.AssetID, UserID: rec.UserID,
		FileSize: rec.FileSize, At: stamp(rec.At),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		log.Printf("audit: failed to persist file-operation log: %v", err)
	}
}

// SubmitReplay persists a replay upload record.
func (s *Store) SubmitReplay(ctx context.Context, rec Replay) {
	row := &replayRow{
		Tag: rec.Tag, Filename: rec.Filename, URL: rec.URL,
		AccountID: rec.AccountID, AssetID: rec.AssetID, UserID: rec.UserID,
		At: stamp(rec.At),
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		log.Printf("audit: failed to persist replay record: %v", err)
	}
}
