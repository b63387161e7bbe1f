package dedup

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
)

var pebblePrefix = []byte("fhc/")

// PebbleRepository keeps the hash cache in an embedded key-value store, for machines
// without a SQL database.
type PebbleRepository struct {
	db *pebble.DB
}

func OpenPebbleRepository(dir string) (*PebbleRepository, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, common.NewErrorf("db_open_error", "open hash cache at %s: %v", dir, err)
	}
	return &PebbleRepository{db: db}, nil
}

func (r *PebbleRepository) Close() error {
	return r.db.Close()
}

func pebbleKey(hash string) []byte {
	return append(append([]byte(nil), pebblePrefix...), hash...)
}

func (r *PebbleRepository) get(hash string) (*FileHashCacheEntry, error) {
	raw, closer, err := r.db.Get(pebbleKey(hash))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	entry := &FileHashCacheEntry{}
	if err := json.Unmarshal(raw, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *PebbleRepository) Lookup(ctx context.Context, hashes []string) (map[string]*FileHashCacheEntry, error) {
	found := make(map[string]*FileHashCacheEntry, len(hashes))
	for _, h := range hashes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		entry, err := r.get(h)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			found[h] = entry
		}
	}
	return found, nil
}

func (r *PebbleRepository) Save(ctx context.Context, entry *FileHashCacheEntry) error {
	existing, err := r.get(entry.ContentHash)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return r.db.Set(pebbleKey(entry.ContentHash), raw, pebble.Sync)
}

func (r *PebbleRepository) List(ctx context.Context, limit int) ([]*FileHashCacheEntry, error) {
	upper := append(append([]byte(nil), pebblePrefix[:len(pebblePrefix)-1]...), pebblePrefix[len(pebblePrefix)-1]+1)
	iter, err := r.db.NewIter(&pebble.IterOptions{LowerBound: pebblePrefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*FileHashCacheEntry
	for iter.First(); iter.Valid(); iter.Next() {
		entry := &FileHashCacheEntry{}
		if err := json.Unmarshal(iter.Value(), entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
