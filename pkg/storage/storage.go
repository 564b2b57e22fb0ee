package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

var ErrEmptyAccountID = errors.New("accountID cannot be empty")

// Database persists the per-account lifetime state and the daily history.
type Database interface {
	// GetLifetimeState returns the stored state, or a new empty state when the
	// account has none yet.
	GetLifetimeState(ctx context.Context, accountID string) (types.LifetimeState, error)
	SetLifetimeState(ctx context.Context, accountID string, state types.LifetimeState) error

	// UpsertDailySummaries adds or replaces summaries keyed by their start.
	UpsertDailySummaries(ctx context.Context, accountID string, summaries []types.DailySummary) error
	// GetDailySummaries returns summaries starting in [start, end), oldest first.
	GetDailySummaries(ctx context.Context, accountID string, start, end time.Time) ([]types.DailySummary, error)

	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "sqlite", "Storage provider to use (available: firestore, sqlite)")

	var p struct{ Database }

	fs := configuredFirestore()
	sq := configuredSQLite()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Database = fs
		case "sqlite":
			if err := sq.Validate(); err != nil {
				panic(fmt.Sprintf("sqlite validation failed: %v", err))
			}
			if err := sq.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("sqlite init failed: %v", err))
			}
			p.Database = sq
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

// summaryKey is the document/row key of a summary. UTC RFC 3339 sorts
// chronologically, which the range queries rely on.
func summaryKey(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
