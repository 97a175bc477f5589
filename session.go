package agent

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transport modes recorded in a SessionRecord.
const (
	ModeHTTP       = "http"
	ModeSubprocess = "acp"
)

// SessionRecord summarizes an OpenCode session so it can be resumed later.
// The conversation itself lives on the OpenCode server.
type SessionRecord struct {
	ID        string          `json:"id"`
	Mode      string          `json:"mode"`
	Model     string          `json:"model"`
	Cwd       string          `json:"cwd"`
	ServerURL string          `json:"server_url,omitempty"`
	NumTurns  int             `json:"num_turns"`
	TotalCost decimal.Decimal `json:"total_cost"`
	Usage     Usage           `json:"usage"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Clone returns a copy of r.
func (r *SessionRecord) Clone() *SessionRecord {
	c := *r
	return &c
}

// SessionStore defines the interface for session record persistence.
type SessionStore interface {
	Save(ctx context.Context, record *SessionRecord) error
	Load(ctx context.Context, id string) (*SessionRecord, error)
	Delete(ctx context.Context, id string) error
}

// SessionLister extends SessionStore with the ability to list records.
type SessionLister interface {
	SessionStore
	List(ctx context.Context) ([]*SessionRecord, error)
}

// Latest returns the most recently updated record of store.
func Latest(ctx context.Context, store SessionStore) (*SessionRecord, error) {
	if store == nil {
		return nil, ErrNoSessionStore
	}
	lister, ok := store.(SessionLister)
	if !ok {
		return nil, ErrStoreNotListable
	}
	records, err := lister.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoSessions
	}
	latest := records[0]
	for _, r := range records[1:] {
		if r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	return latest, nil
}
