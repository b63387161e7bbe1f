// Package hasher computes content digests used to find files that are already stored.
package hasher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/encryption"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 8
	DefaultMaxFileSize = int64(100 << 20)
	DefaultTimeout     = 30 * time.Second

	largeAverage = int64(10 << 20)
	hugeAverage  = int64(50 << 20)
)

type Options struct {
	Concurrency int
	MaxFileSize int64
	Timeout     time.Duration
	// OnHashed is called after each file settles with the number settled so far.
	OnHashed func(done, total int)
}

// Result maps a file path to its hex digest or to the reason it has none.
type Result struct {
	Digests  map[string]string
	Failures map[string]error
}

type Hasher struct {
	opts Options
}

func New(opts Options) *Hasher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Hasher{opts: opts}
}

// HashFiles digests every file. Per file failures are recorded in the result and never stop
// the batch; the returned error is only set when ctx ends before all files were scheduled.
func (h *Hasher) HashFiles(ctx context.Context, list []*files.File) (*Result, error) {
	res := &Result{
		Digests:  make(map[string]string, len(list)),
		Failures: make(map[string]error),
	}
	if len(list) == 0 {
		return res, nil
	}

	limit := h.concurrencyFor(list)
	logging.Logger.Debug("hashing files",
		zap.Int("files", len(list)),
		zap.Int("concurrency", limit))

	var (
		mu   sync.Mutex
		done int
		g    errgroup.Group
	)
	g.SetLimit(limit)

	record := func(path, digest string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			res.Failures[path] = err
		} else {
			res.Digests[path] = digest
		}
		done++
		if h.opts.OnHashed != nil {
			h.opts.OnHashed(done, len(list))
		}
	}

	for _, f := range list {
		if ctx.Err() != nil {
			break
		}
		f := f
		g.Go(func() error {
			digest, err := h.hashOne(ctx, f)
			if err != nil {
				logging.Logger.Warn("skipping hash",
					zap.String("path", f.Path),
					zap.Error(err))
			}
			record(f.Path, digest, err)
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return res, errors.FromContext(ctx)
	}
	return res, nil
}

func (h *Hasher) hashOne(ctx context.Context, f *files.File) (string, error) {
	if f.Size > h.opts.MaxFileSize {
		return "", errors.Throw(errors.ErrHashingFailed,
			fmt.Sprintf("%s exceeds hashing size ceiling (%d > %d bytes)", f.Path, f.Size, h.opts.MaxFileSize))
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.Timeout)
	defer cancel()

	rc, err := f.Open()
	if err != nil {
		return "", errors.Throw(errors.ErrHashingFailed, f.Path+": "+err.Error())
	}
	defer rc.Close()

	digest, _, err := encryption.HashReader(ctx, rc)
	if err != nil {
		return "", errors.Throw(errors.ErrHashingFailed, f.Path+": "+err.Error())
	}
	return digest, nil
}

// concurrencyFor lowers the worker count for large files so memory and disk pressure stay
// bounded.
func (h *Hasher) concurrencyFor(list []*files.File) int {
	limit := h.opts.Concurrency
	avg := files.TotalSize(list) / int64(len(list))
	switch {
	case avg > hugeAverage && limit > 2:
		limit = 2
	case avg > largeAverage && limit > 4:
		limit = 4
	}
	return limit
}
