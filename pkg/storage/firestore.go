package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fluviusenergy/fluviusenergy/pkg/log"
	"github.com/fluviusenergy/fluviusenergy/pkg/types"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every account gets a document under "accounts" holding the
// lifetime state and a daily_summaries collection.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(accountID, name string) (*firestore.CollectionRef, error) {
	if accountID == "" {
		return nil, ErrEmptyAccountID
	}
	return f.client.Collection("accounts").Doc(accountID).Collection(name), nil
}

// GetLifetimeState reads the "state/lifetime" document.
func (f *FirestoreProvider) GetLifetimeState(ctx context.Context, accountID string) (types.LifetimeState, error) {
	coll, err := f.getCollection(accountID, "state")
	if err != nil {
		return types.LifetimeState{}, err
	}
	doc, err := coll.Doc("lifetime").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.NewLifetimeState(), nil
		}
		return types.LifetimeState{}, fmt.Errorf("failed to fetch lifetime doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "lifetime doc missing json", slog.String("accountID", accountID))
		return types.LifetimeState{}, fmt.Errorf("lifetime document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "lifetime doc json not string", slog.String("accountID", accountID))
		return types.LifetimeState{}, fmt.Errorf("lifetime 'json' field is not a string")
	}

	var s types.LifetimeState
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal lifetime json", slog.String("accountID", accountID), slog.Any("err", err))
		return types.LifetimeState{}, fmt.Errorf("failed to unmarshal lifetime json: %w", err)
	}
	s.Normalize()
	return s, nil
}

// SetLifetimeState replaces the "state/lifetime" document. The state is
// stored as a JSON string next to its version.
func (f *FirestoreProvider) SetLifetimeState(ctx context.Context, accountID string, state types.LifetimeState) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal lifetime state: %w", err)
	}
	coll, err := f.getCollection(accountID, "state")
	if err != nil {
		return err
	}
	_, err = coll.Doc("lifetime").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": state.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to save lifetime state: %w", err)
	}
	return nil
}

// UpsertDailySummaries writes each summary to "daily_summaries" using the
// UTC start as document ID.
func (f *FirestoreProvider) UpsertDailySummaries(ctx context.Context, accountID string, summaries []types.DailySummary) error {
	if len(summaries) == 0 {
		return nil
	}
	coll, err := f.getCollection(accountID, "daily_summaries")
	if err != nil {
		return err
	}
	for _, s := range summaries {
		if s.Start.IsZero() {
			return fmt.Errorf("daily summary %q missing start", s.DayID)
		}
		jsonBytes, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to marshal daily summary: %w", err)
		}
		_, err = coll.Doc(summaryKey(s.Start)).Set(ctx, map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": s.Start,
			"dayID":     s.DayID,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert daily summary: %w", err)
		}
	}
	return nil
}

// GetDailySummaries uses document ID range queries so only the requested
// days are read.
func (f *FirestoreProvider) GetDailySummaries(ctx context.Context, accountID string, start, end time.Time) ([]types.DailySummary, error) {
	coll, err := f.getCollection(accountID, "daily_summaries")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(summaryKey(start))).
		Where(firestore.DocumentID, "<", coll.Doc(summaryKey(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var summaries []types.DailySummary
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating daily summaries: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "summary doc missing json", slog.String("docID", doc.Ref.ID), slog.String("accountID", accountID), slog.Any("err", err))
			return nil, fmt.Errorf("summary document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("summary document %s 'json' field is not string", doc.Ref.ID)
		}
		var s types.DailySummary
		if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal summary", slog.String("docID", doc.Ref.ID), slog.String("accountID", accountID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal summary (id=%s): %w", doc.Ref.ID, err)
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}
