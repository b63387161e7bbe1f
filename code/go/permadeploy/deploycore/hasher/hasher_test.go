package hasher

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/encryption"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/stretchr/testify/require"
)

// slowReader never finishes until its context is done.
type slowReader struct{}

func (slowReader) Read(p []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	p[0] = 'x'
	return 1, nil
}

func (slowReader) Close() error { return nil }

func TestHashFiles(t *testing.T) {
	list := []*files.File{
		files.FromBytes("site/a.txt", []byte("alpha"), "text/plain"),
		files.FromBytes("site/b.txt", []byte("beta"), "text/plain"),
		files.FromBytes("site/c.txt", []byte("alpha"), "text/plain"),
	}

	var calls int
	h := New(Options{OnHashed: func(done, total int) {
		calls++
		require.Equal(t, 3, total)
	}})
	res, err := h.HashFiles(context.Background(), list)
	require.NoError(t, err)
	require.Empty(t, res.Failures)
	require.Len(t, res.Digests, 3)
	require.Equal(t, encryption.Hash("alpha"), res.Digests["site/a.txt"])
	require.Equal(t, res.Digests["site/a.txt"], res.Digests["site/c.txt"])
	require.NotEqual(t, res.Digests["site/a.txt"], res.Digests["site/b.txt"])
	require.Equal(t, 3, calls)
}

func TestHashFilesSizeCeiling(t *testing.T) {
	list := []*files.File{
		files.FromBytes("small", []byte("ok"), "text/plain"),
		files.FromBytes("big", make([]byte, 64), "application/octet-stream"),
	}
	res, err := New(Options{MaxFileSize: 32}).HashFiles(context.Background(), list)
	require.NoError(t, err)
	require.Contains(t, res.Digests, "small")
	require.NotContains(t, res.Digests, "big")
	require.True(t, errors.Is(res.Failures["big"], errors.ErrHashingFailed))
	require.Contains(t, res.Failures["big"].Error(), "exceeds hashing size ceiling")
}

func TestHashFilesPerFileTimeout(t *testing.T) {
	slow := files.FromOpener("slow", 10, "text/plain", func() (io.ReadCloser, error) {
		return slowReader{}, nil
	})
	fast := files.FromBytes("fast", []byte("quick"), "text/plain")

	res, err := New(Options{Timeout: 30 * time.Millisecond}).HashFiles(context.Background(), []*files.File{slow, fast})
	require.NoError(t, err, "a timed out file does not fail the batch")
	require.Contains(t, res.Digests, "fast")
	require.True(t, errors.Is(res.Failures["slow"], errors.ErrHashingFailed))
}

func TestHashFilesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(Options{}).HashFiles(ctx, []*files.File{files.FromBytes("a", []byte("a"), "")})
	require.True(t, errors.Is(err, errors.ErrCancelled))
	require.Empty(t, res.Digests)
}

func TestConcurrencyFor(t *testing.T) {
	h := New(Options{Concurrency: 8})
	sized := func(n int64) []*files.File {
		return []*files.File{files.FromOpener("f", n, "", nil)}
	}
	require.Equal(t, 8, h.concurrencyFor(sized(1<<20)))
	require.Equal(t, 4, h.concurrencyFor(sized(20<<20)))
	require.Equal(t, 2, h.concurrencyFor(sized(60<<20)))

	require.Equal(t, 3, New(Options{Concurrency: 3}).concurrencyFor(sized(20<<20)))
}
