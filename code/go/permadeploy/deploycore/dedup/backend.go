package dedup

import (
	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/config"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/datastore"
)

const (
	BackendSqlite   = "sqlite"
	BackendPostgres = "postgres"
	BackendPebble   = "pebble"
	BackendMemory   = "memory"
)

// OpenConfigured returns the repository selected by dedup.backend and a func that releases
// it. The SQL backends open and migrate the shared datastore.
func OpenConfigured() (Repository, func(), error) {
	c := config.Configuration
	switch c.DedupBackend {
	case BackendPebble:
		repo, err := OpenPebbleRepository(c.DedupPebbleDir)
		if err != nil {
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case BackendMemory:
		store, err := datastore.UseInMemory()
		if err != nil {
			return nil, nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			store.Close()
			return nil, nil, err
		}
		return NewGormRepository(store.GetDB(), c.DedupMemoTTL), store.Close, nil

	case "", BackendSqlite, BackendPostgres:
		// reuse a store the caller already opened
		if store := datastore.GetStore(); store != nil && store.GetDB() != nil {
			return NewGormRepository(store.GetDB(), c.DedupMemoTTL), func() {}, nil
		}
		if err := datastore.UseConfigured(); err != nil {
			return nil, nil, err
		}
		store := datastore.GetStore()
		if err := store.Open(); err != nil {
			return nil, nil, err
		}
		if err := store.AutoMigrate(); err != nil {
			store.Close()
			return nil, nil, err
		}
		return NewGormRepository(store.GetDB(), c.DedupMemoTTL), store.Close, nil
	}
	return nil, nil, common.NewErrorf("invalid_config", "unknown dedup backend %q", c.DedupBackend)
}
