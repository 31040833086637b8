package config

import (
	"fmt"

	"github.com/skylight-bench/uploader/store"
)

// BuildStore constructs the record-store client selected by the
// configuration.
func BuildStore(cfg *Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case BackendREST:
		return store.NewRESTStore(cfg.Store.URL, cfg.Store.Key, cfg.Store.TimeoutDuration()), nil
	case BackendPostgres:
		return store.ConnectPostgres(cfg.Store.PostgresDSN, cfg.Store.MaxOpenConns)
	case BackendMemory:
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
