package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type mapRepository struct {
	entries map[string]*FileHashCacheEntry
	err     error
	asked   []string
}

func (m *mapRepository) Lookup(_ context.Context, hashes []string) (map[string]*FileHashCacheEntry, error) {
	m.asked = append(m.asked, hashes...)
	if m.err != nil {
		return nil, m.err
	}
	out := map[string]*FileHashCacheEntry{}
	for _, h := range hashes {
		if e, ok := m.entries[h]; ok {
			out[h] = e
		}
	}
	return out, nil
}

func (m *mapRepository) Save(_ context.Context, e *FileHashCacheEntry) error {
	if _, ok := m.entries[e.ContentHash]; !ok {
		m.entries[e.ContentHash] = e
	}
	return nil
}

func (m *mapRepository) List(context.Context, int) ([]*FileHashCacheEntry, error) {
	return nil, nil
}

func sized(path string, n int) *files.File {
	return files.FromBytes(path, make([]byte, n), "application/octet-stream")
}

func TestPlan(t *testing.T) {
	repo := &mapRepository{entries: map[string]*FileHashCacheEntry{
		"hash-a": {ContentHash: "hash-a", TransactionID: "tx-a", ByteSize: 100},
	}}
	list := []*files.File{sized("site/a", 100), sized("site/a-copy", 100), sized("site/b", 50), sized("site/c", 10)}
	digests := map[string]string{"site/a": "hash-a", "site/a-copy": "hash-a", "site/b": "hash-b"}

	plan, err := NewPlanner(repo, 20).Plan(context.Background(), list, digests)
	require.NoError(t, err)

	require.Len(t, plan.Cached, 2)
	require.Equal(t, "tx-a", plan.Cached[0].Entry.TransactionID)
	require.Equal(t, "site/a-copy", plan.Cached[1].File.Path)

	require.Len(t, plan.ToUpload, 2)
	require.Equal(t, "site/b", plan.ToUpload[0].Path)
	require.Equal(t, "site/c", plan.ToUpload[1].Path, "no digest means upload")

	require.ElementsMatch(t, []string{"hash-a", "hash-b"}, repo.asked, "each hash asked once")

	require.Equal(t, Stats{
		TotalFiles:    4,
		CachedFiles:   2,
		NewFiles:      2,
		TotalBytes:    260,
		CachedBytes:   200,
		NewBytes:      60,
		BillableBytes: 50,
		SavedBytes:    200,
	}, plan.Stats)
}

func TestPlanWithoutRepository(t *testing.T) {
	plan, err := NewPlanner(nil, 0).Plan(context.Background(), []*files.File{sized("a", 1)}, map[string]string{"a": "h"})
	require.NoError(t, err)
	require.Empty(t, plan.Cached)
	require.Len(t, plan.ToUpload, 1)
	require.EqualValues(t, 1, plan.Stats.BillableBytes)
}

func TestPlanLookupError(t *testing.T) {
	repo := &mapRepository{err: errors.New("db down")}
	_, err := NewPlanner(repo, 0).Plan(context.Background(), []*files.File{sized("a", 1)}, map[string]string{"a": "h"})
	require.Error(t, err)
}

func TestBillingAndCost(t *testing.T) {
	require.Zero(t, BillableBytes(100, 100))
	require.EqualValues(t, 101, BillableBytes(101, 100))
	require.EqualValues(t, 0, BillableBytes(0, 0))
	require.EqualValues(t, 1, BillableBytes(1, 0))

	price := decimal.RequireFromString("0.5")
	require.True(t, FileCost(100, 100, price).IsZero())
	require.True(t, FileCost(101, 100, price).Equal(decimal.RequireFromString("50.5")))
	require.True(t, EstimateCost(0, price).IsZero())
}
