package dedup

import (
	"context"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/cache"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/datastore"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the content hash cache.
type Repository interface {
	// Lookup returns the entries known for hashes, keyed by hash. Unknown hashes are absent.
	Lookup(ctx context.Context, hashes []string) (map[string]*FileHashCacheEntry, error)
	// Save inserts entry unless its hash is already recorded.
	Save(ctx context.Context, entry *FileHashCacheEntry) error
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]*FileHashCacheEntry, error)
}

// lookupChunk keeps IN clauses well under the sqlite variable limit.
const lookupChunk = 500

// GormRepository stores entries in the datastore and memoizes hits for memoTTL.
type GormRepository struct {
	db   *gorm.DB
	memo cache.Cache
}

func NewGormRepository(db *gorm.DB, memoTTL time.Duration) *GormRepository {
	if memoTTL <= 0 {
		memoTTL = 10 * time.Minute
	}
	return &GormRepository{db: db, memo: cache.NewMemoryCache(memoTTL)}
}

func (r *GormRepository) Lookup(ctx context.Context, hashes []string) (map[string]*FileHashCacheEntry, error) {
	found := make(map[string]*FileHashCacheEntry, len(hashes))
	var missing []string
	for _, h := range hashes {
		if v, err := r.memo.Get(h); err == nil {
			found[h] = v.(*FileHashCacheEntry)
			continue
		}
		missing = append(missing, h)
	}

	tx := datastore.GetTransaction(ctx, r.db)
	for start := 0; start < len(missing); start += lookupChunk {
		end := start + lookupChunk
		if end > len(missing) {
			end = len(missing)
		}
		var rows []*FileHashCacheEntry
		err := tx.Where("content_hash IN ?", missing[start:end]).Find(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			found[row.ContentHash] = row
			_ = r.memo.Add(row.ContentHash, row)
		}
	}

	logging.Logger.Debug("hash cache lookup",
		zap.Int("requested", len(hashes)),
		zap.Int("memo_hits", len(hashes)-len(missing)),
		zap.Int("found", len(found)))
	return found, nil
}

func (r *GormRepository) Save(ctx context.Context, entry *FileHashCacheEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := datastore.GetTransaction(ctx, r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
	if err != nil {
		return err
	}
	// an existing row wins; drop any memo so the next lookup reads it back
	_ = r.memo.Delete(entry.ContentHash)
	return nil
}

func (r *GormRepository) List(ctx context.Context, limit int) ([]*FileHashCacheEntry, error) {
	var rows []*FileHashCacheEntry
	q := datastore.GetTransaction(ctx, r.db).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
