package conversation

import (
	"context"
	"errors"
	"fmt"

	"llmgateway/config"
	"llmgateway/internal/storage"
)

// Result holds the initialized conversation store and the storage it owns, if any.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates a conversation store from app configuration.
func New(ctx context.Context, cfg *config.Config) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Storage.Type == storage.TypeMemory {
		return &Result{Store: NewMemoryStore()}, nil
	}

	st, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	store, err := createStore(ctx, st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &Result{Store: store, Storage: st}, nil
}

// NewWithSharedStorage creates a conversation store on an existing connection.
// Closing the result leaves shared open.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	store, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Store: store}, nil
}

func buildStorageConfig(cfg *config.Config) storage.Config {
	storageCfg := storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLite.Path,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgreSQL.URL,
			MaxConns: cfg.Storage.PostgreSQL.MaxConns,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoDB.URL,
			Database: cfg.Storage.MongoDB.Database,
		},
	}
	if storageCfg.Type == "" {
		storageCfg.Type = storage.TypeSQLite
	}
	return storageCfg
}

func createStore(ctx context.Context, st storage.Storage) (Store, error) {
	switch st.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(st.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, st.PostgreSQLPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(st.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", st.Type())
	}
}
