package store

import (
	"strings"

	hserrors "github.com/Aman-CERP/hybridsearch/internal/errors"
)

// NewStorage returns the backend named by cfg.Type. The backend is not
// initialized. An unknown type fails immediately and names the value.
func NewStorage(cfg Config) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeSQLite:
		return NewSQLiteStorage(cfg), nil
	case TypePostgres, "postgres":
		if cfg.ConnectionString == "" {
			return nil, hserrors.New(hserrors.ErrCodeConfigInvalid,
				"postgresql storage requires a connection string", nil).
				WithSuggestion("Set storage.connection_string or HYBRIDSEARCH_DATABASE_URL")
		}
		return NewPostgresStorage(cfg), nil
	default:
		return nil, hserrors.New(hserrors.ErrCodeUnsupportedStorage,
			"unsupported storage type: "+cfg.Type, nil).
			WithDetail("type", cfg.Type).
			WithSuggestion("Use 'sqlite' or 'postgresql'")
	}
}
