// Package dedup splits a deployment into files that are already stored and files that still
// have to be uploaded, and estimates what the upload will cost.
package dedup

import (
	"context"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CachedFile is a file whose content is already stored under Entry.TransactionID.
type CachedFile struct {
	File  *files.File
	Hash  string
	Entry *FileHashCacheEntry
}

type Stats struct {
	TotalFiles    int   `json:"total_files"`
	CachedFiles   int   `json:"cached_files"`
	NewFiles      int   `json:"new_files"`
	TotalBytes    int64 `json:"total_bytes"`
	CachedBytes   int64 `json:"cached_bytes"`
	NewBytes      int64 `json:"new_bytes"`
	BillableBytes int64 `json:"billable_bytes"`
	SavedBytes    int64 `json:"saved_bytes"`
}

type Plan struct {
	Cached   []*CachedFile
	ToUpload []*files.File
	Stats    Stats
}

type Planner struct {
	repo          Repository
	freeTierBytes int64
}

// NewPlanner returns a planner. repo may be nil, in which case every file is new.
func NewPlanner(repo Repository, freeTierBytes int64) *Planner {
	return &Planner{repo: repo, freeTierBytes: freeTierBytes}
}

// Plan partitions list. digests maps a file path to its content hash; files without a digest
// are always uploaded.
func (p *Planner) Plan(ctx context.Context, list []*files.File, digests map[string]string) (*Plan, error) {
	plan := &Plan{}

	known := map[string]*FileHashCacheEntry{}
	if p.repo != nil && len(digests) > 0 {
		hashes := make([]string, 0, len(digests))
		seen := make(map[string]bool, len(digests))
		for _, f := range list {
			if h, ok := digests[f.Path]; ok && !seen[h] {
				seen[h] = true
				hashes = append(hashes, h)
			}
		}
		var err error
		known, err = p.repo.Lookup(ctx, hashes)
		if err != nil {
			return nil, err
		}
	}

	for _, f := range list {
		plan.Stats.TotalFiles++
		plan.Stats.TotalBytes += f.Size

		h, hashed := digests[f.Path]
		if entry, ok := known[h]; hashed && ok {
			plan.Cached = append(plan.Cached, &CachedFile{File: f, Hash: h, Entry: entry})
			plan.Stats.CachedFiles++
			plan.Stats.CachedBytes += f.Size
			plan.Stats.SavedBytes += BillableBytes(f.Size, p.freeTierBytes)
			continue
		}

		plan.ToUpload = append(plan.ToUpload, f)
		plan.Stats.NewFiles++
		plan.Stats.NewBytes += f.Size
		plan.Stats.BillableBytes += BillableBytes(f.Size, p.freeTierBytes)
	}

	logging.Logger.Info("deduplication plan",
		zap.Int("files", plan.Stats.TotalFiles),
		zap.Int("cached", plan.Stats.CachedFiles),
		zap.Int64("billable_bytes", plan.Stats.BillableBytes))
	return plan, nil
}

// BillableBytes is size unless the file fits in the free tier, in which case nothing is billed.
func BillableBytes(size, freeTierBytes int64) int64 {
	if size <= freeTierBytes {
		return 0
	}
	return size
}

// EstimateCost multiplies billable bytes by the per byte price.
func EstimateCost(billableBytes int64, wincPerByte decimal.Decimal) decimal.Decimal {
	if billableBytes <= 0 {
		return decimal.Zero
	}
	return wincPerByte.Mul(decimal.NewFromInt(billableBytes))
}

// FileCost is the cost of one file of size bytes; zero under the free tier.
func FileCost(size, freeTierBytes int64, wincPerByte decimal.Decimal) decimal.Decimal {
	return EstimateCost(BillableBytes(size, freeTierBytes), wincPerByte)
}
