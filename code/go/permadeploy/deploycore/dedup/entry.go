package dedup

import (
	"time"
)

const TableNameFileHashCache = "file_hash_cache"

// FileHashCacheEntry records that content with ContentHash is already stored under
// TransactionID. Entries are written once and never updated.
type FileHashCacheEntry struct {
	ContentHash   string    `gorm:"column:content_hash;size:64;primaryKey" json:"content_hash"`
	TransactionID string    `gorm:"column:transaction_id;size:64;not null" json:"transaction_id"`
	ByteSize      int64     `gorm:"column:byte_size;not null" json:"byte_size"`
	ContentType   string    `gorm:"column:content_type;size:255" json:"content_type"`
	CreatedAt     time.Time `gorm:"column:created_at" json:"created_at"`
}

func (FileHashCacheEntry) TableName() string {
	return TableNameFileHashCache
}
