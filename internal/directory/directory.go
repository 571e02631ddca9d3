// Package directory holds the identity and asset model the gateway proxies
// for: the authenticated principal, the target assets, and the accounts
// (credentials) registered on them. Lookup and Blocklist are the seams the
// session engines consume; Store is the bun/SQLite implementation.
package directory

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

// Protocol is the remote-access protocol of an asset.
type Protocol string

const (
	ProtocolSSH Protocol = "ssh"
	ProtocolRDP Protocol = "rdp"
	ProtocolVNC Protocol = "vnc"
)

// Principal is the authenticated user driving a session.
type Principal struct {
	UserID   int64
	Username string
}

// Asset is a target machine reachable through the gateway.
type Asset struct {
	bun.BaseModel `bun:"table:assets"`

	ID       int64    `json:"id" bun:"id,pk,autoincrement"`
	Hostname string   `json:"hostname" bun:"hostname,notnull"`
	IP       string   `json:"ip" bun:"ip,notnull"`
	Port     int      `json:"port" bun:"port,notnull"`
	Protocol Protocol `json:"protocol" bun:"protocol,notnull"`
	OS       string   `json:"os" bun:"os"`
}

// Account is a credential set registered on an asset.
type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	ID       int64  `json:"id" bun:"id,pk,autoincrement"`
	AssetID  int64  `json:"asset_id" bun:"asset_id,notnull"`
	Name     string `json:"name" bun:"name"`
	Username string `json:"username" bun:"username,notnull"`
	Password string `json:"-" bun:"password,notnull"`
	// No column default here: bun substitutes the DEFAULT for zero-value
	// fields on insert, which would turn IsActive=false into true.
	IsActive bool `json:"is_active" bun:"is_active,notnull"`
}

// BlackCommand is one blocklisted command token.
type BlackCommand struct {
	bun.BaseModel `bun:"table:black_commands"`

	ID  int64  `json:"id" bun:"id,pk,autoincrement"`
	Key string `json:"key" bun:"key,unique,notnull"`
}

// Lookup resolves an asset/account pair for session setup.
type Lookup interface {
	AssetAccount(ctx context.Context, assetID, accountID int64) (*Asset, *Account, error)
}

// Blocklist provides a point-in-time snapshot of the high-risk command set.
// Sessions take the snapshot once at connect and never refresh it.
type Blocklist interface {
	Snapshot(ctx context.Context) (map[string]struct{}, error)
}

var (
	// ErrAssetNotFound is returned when the asset does not exist.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrAccountNotFound is returned when the account does not exist or
	// belongs to a different asset.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountInactive is returned when the account is disabled.
	ErrAccountInactive = errors.New("account is invalid")
)
