package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	_ "modernc.org/sqlite"
)

// Store is the bun-backed asset directory. It implements Lookup and Blocklist.
type Store struct {
	db *bun.DB
}

// Open opens (or creates) the SQLite database at path and returns a Store.
func Open(path string) (*Store, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time; serialize access through a
	// single connection to avoid SQLITE_BUSY under concurrent sessions.
	sqldb.SetMaxOpenConns(1)

	return &Store{db: bun.NewDB(sqldb, sqlitedialect.New())}, nil
}

// NewStore wraps an existing bun.DB (used by tests and the audit store).
func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying bun handle so other stores can share the
// connection.
func (s *Store) DB() *bun.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Init creates the directory tables if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	models := []interface{}{
		(*Asset)(nil),
		(*Account)(nil),
		(*BlackCommand)(nil),
	}
	for _, m := range models {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table for %T: %w", m, err)
		}
	}
	return nil
}

// AssetAccount resolves an asset and one of its accounts, enforcing that the
// account belongs to the asset and is active.
func (s *Store) AssetAccount(ctx context.Context, assetID, accountID int64) (*Asset, *Account, error) {
	asset := new(Asset)
	err := s.db.NewSelect().Model(asset).Where("id = ?", assetID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrAssetNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load asset %d: %w", assetID, err)
	}

	account := new(Account)
	err = s.db.NewSelect().Model(account).
		Where("id = ?", accountID).
		Where("asset_id = ?", assetID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load account %d: %w", accountID, err)
	}
	if !account.IsActive {
		return nil, nil, ErrAccountInactive
	}

	return asset, account, nil
}

// Snapshot returns the current blocklisted command tokens as a set.
func (s *Store) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	var cmds []BlackCommand
	if err := s.db.NewSelect().Model(&cmds).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to load blocklist: %w", err)
	}
	set := make(map[string]struct{}, len(cmds))
	for _, c := range cmds {
		set[c.Key] = struct{}{}
	}
	return set, nil
}

// AddAsset inserts an asset and returns it with its assigned ID.
func (s *Store) AddAsset(ctx context.Context, a *Asset) error {
	if _, err := s.db.NewInsert().Model(a).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert asset: %w", err)
	}
	return nil
}

// AddAccount inserts an account for an asset.
func (s *Store) AddAccount(ctx context.Context, a *Account) error {
	if _, err := s.db.NewInsert().Model(a).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

// AddBlockedCommand registers a high-risk command token. Duplicate keys are
// ignored.
func (s *Store) AddBlockedCommand(ctx context.Context, key string) error {
	_, err := s.db.NewInsert().Model(&BlackCommand{Key: key}).
		On("CONFLICT (key) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert blocked command: %w", err)
	}
	return nil
}
