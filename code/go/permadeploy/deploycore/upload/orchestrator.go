// Package upload stores a batch of files with bounded parallelism, retries and a failure
// budget, reporting progress as it goes.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/remeh/sizedwaitgroup"
	"go.uber.org/zap"
)

const (
	DefaultBatchSize       = 5
	DefaultMaxAttempts     = 3
	DefaultBackoff         = 2 * time.Second
	DefaultAttemptTimeout  = 5 * time.Minute
	DefaultMaxFailureRatio = 0.1
)

// Policy is the retry and failure budget shared by every upload of an orchestrator.
type Policy struct {
	BatchSize      int
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	// MaxFailureRatio aborts the batch once failures exceed this share of planned files.
	MaxFailureRatio float64
	AppName         string
	AppVersion      string
}

func (p Policy) withDefaults() Policy {
	if p.BatchSize < 1 {
		p.BatchSize = DefaultBatchSize
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = DefaultAttemptTimeout
	}
	if p.MaxFailureRatio <= 0 {
		p.MaxFailureRatio = DefaultMaxFailureRatio
	}
	return p
}

// BatchOptions are per call settings.
type BatchOptions struct {
	// Digests maps file path to content hash; when set the hash is tagged on the upload.
	Digests  map[string]string
	Funding  *transport.OnDemandFunding
	DeployID string
}

type FileResult struct {
	Path        string
	File        *files.File
	ContentHash string
	Attempts    int
	Result      *transport.UploadResult
}

// FileFailure is a file that exhausted its attempts.
type FileFailure struct {
	Path     string
	Attempts int
	Err      error
}

func (f *FileFailure) Error() string {
	return fmt.Sprintf("upload of %s failed after %d attempt(s): %v", f.Path, f.Attempts, f.Err)
}

func (f *FileFailure) Unwrap() error {
	return f.Err
}

type BatchResult struct {
	Succeeded []*FileResult
	Failures  []*FileFailure
	Tasks     []*Task
}

type Orchestrator struct {
	uploader transport.Uploader
	policy   Policy
}

func NewOrchestrator(uploader transport.Uploader, policy Policy) *Orchestrator {
	return &Orchestrator{uploader: uploader, policy: policy.withDefaults()}
}

// UploadBatch uploads list in waves of BatchSize. Results for files that finished are returned
// even when the batch stops early, together with ErrCancelled or ErrTooManyFailures.
func (o *Orchestrator) UploadBatch(ctx context.Context, list []*files.File, opts BatchOptions, sink Sink) (*BatchResult, error) {
	res := &BatchResult{Tasks: make([]*Task, len(list))}
	for i, f := range list {
		res.Tasks[i] = newTask(f, opts.Digests[f.Path])
	}
	if len(list) == 0 {
		return res, nil
	}

	track := newTracker(sink, res.Tasks)
	budget := o.policy.MaxFailureRatio * float64(len(list))
	size := o.policy.BatchSize

	var mu sync.Mutex
	for start := 0; start < len(res.Tasks); start += size {
		if ctx.Err() != nil {
			cancelPending(res.Tasks[start:], track)
			return res, errors.FromContext(ctx)
		}

		end := start + size
		if end > len(res.Tasks) {
			end = len(res.Tasks)
		}

		swg := sizedwaitgroup.New(size)
		for _, task := range res.Tasks[start:end] {
			swg.Add()
			go func(task *Task) {
				defer swg.Done()
				result, failure := o.runTask(ctx, task, opts, track)
				mu.Lock()
				defer mu.Unlock()
				if result != nil {
					res.Succeeded = append(res.Succeeded, result)
				}
				if failure != nil {
					res.Failures = append(res.Failures, failure)
				}
			}(task)
		}
		swg.Wait()

		if ctx.Err() != nil {
			cancelPending(res.Tasks[end:], track)
			return res, errors.FromContext(ctx)
		}
		if float64(len(res.Failures)) > budget {
			cancelPending(res.Tasks[end:], track)
			logging.Logger.Error("aborting upload batch",
				zap.Int("failed", len(res.Failures)),
				zap.Int("planned", len(list)))
			return res, errors.Throw(errors.ErrTooManyFailures,
				fmt.Sprintf("%d of %d files failed", len(res.Failures), len(list)))
		}
	}

	logging.Logger.Info("upload batch finished",
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failures)))
	return res, nil
}

func cancelPending(tasks []*Task, track *tracker) {
	for _, t := range tasks {
		if t.Transition(TaskCancelled) == nil {
			track.settle(t)
		}
	}
}

// runTask drives one task to a terminal state. It returns a result on success, a failure when
// attempts ran out, and neither when the batch was cancelled.
func (o *Orchestrator) runTask(ctx context.Context, task *Task, opts BatchOptions, track *tracker) (*FileResult, *FileFailure) {
	if ctx.Err() != nil {
		_ = task.Transition(TaskCancelled)
		track.settle(task)
		return nil, nil
	}
	_ = task.Transition(TaskUploading)

	req := &transport.Request{
		Open:    task.File.Open,
		Size:    task.Size,
		Tags:    o.tags(task, opts),
		Funding: opts.Funding,
	}

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			break
		}
		n := task.startAttempt()

		result, err := o.attempt(ctx, req, func(processed, total int64) {
			track.update(task, processed, total)
		})
		if err == nil {
			_ = task.Transition(TaskSucceeded)
			track.settle(task)
			return &FileResult{
				Path:        task.Path,
				File:        task.File,
				ContentHash: task.ContentHash,
				Attempts:    n,
				Result:      result,
			}, nil
		}
		if ctx.Err() != nil {
			break
		}

		lastErr = err
		logging.Logger.Warn("upload attempt failed",
			zap.String("path", task.Path),
			zap.Int("attempt", n),
			zap.Error(err))
		if !retryable(err) || attempt == o.policy.MaxAttempts {
			break
		}
		if common.WaitOrQuit(ctx, o.backoff(attempt)) {
			break
		}
	}

	if ctx.Err() != nil {
		_ = task.Transition(TaskCancelled)
		track.settle(task)
		return nil, nil
	}
	_ = task.Transition(TaskFailed)
	track.settle(task)
	return nil, &FileFailure{Path: task.Path, Attempts: task.Attempts(), Err: lastErr}
}

func (o *Orchestrator) attempt(ctx context.Context, req *transport.Request, progress func(int64, int64)) (*transport.UploadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.policy.AttemptTimeout)
	defer cancel()
	return o.uploader.Upload(ctx, req, progress)
}

// backoff is the wait after the given failed attempt: base, 2*base, 4*base, ...
func (o *Orchestrator) backoff(attempt int) time.Duration {
	return o.policy.Backoff << uint(attempt-1)
}

// retryable is false for failures another attempt cannot fix. A Cancelled error under a live
// context is a declined signature prompt.
func retryable(err error) bool {
	if errors.IsPermanent(err) {
		return false
	}
	for _, permanent := range []error{
		errors.ErrCancelled,
		errors.ErrInsufficientBalance,
		errors.ErrMaxAmountExceeded,
		errors.ErrWrongNetwork,
		errors.ErrUnsupportedWalletType,
		errors.ErrWalletNotConnected,
	} {
		if errors.Is(err, permanent) {
			return false
		}
	}
	return true
}

// Tag names written on every stored object.
const (
	TagAppName     = "App-Name"
	TagAppVersion  = "App-Version"
	TagContentType = "Content-Type"
	TagFilePath    = "File-Path"
	TagFileHash    = "File-Hash"
	TagDeployID    = "Deploy-Id"
)

func (o *Orchestrator) tags(task *Task, opts BatchOptions) []transport.Tag {
	tags := o.baseTags(opts.DeployID)
	tags = append(tags,
		transport.Tag{Name: TagContentType, Value: task.File.ContentType},
		transport.Tag{Name: TagFilePath, Value: task.Path},
	)
	if task.ContentHash != "" {
		tags = append(tags, transport.Tag{Name: TagFileHash, Value: task.ContentHash})
	}
	return tags
}

func (o *Orchestrator) baseTags(deployID string) []transport.Tag {
	var tags []transport.Tag
	if o.policy.AppName != "" {
		tags = append(tags, transport.Tag{Name: TagAppName, Value: o.policy.AppName})
	}
	if o.policy.AppVersion != "" {
		tags = append(tags, transport.Tag{Name: TagAppVersion, Value: o.policy.AppVersion})
	}
	if deployID != "" {
		tags = append(tags, transport.Tag{Name: TagDeployID, Value: deployID})
	}
	return tags
}

// Object is an in-memory payload such as a manifest.
type Object struct {
	Data []byte
	Tags []transport.Tag
}

// UploadObject stores obj with the same attempts, backoff and timeout as a batch file.
func (o *Orchestrator) UploadObject(ctx context.Context, obj Object, opts BatchOptions) (*transport.UploadResult, error) {
	req := &transport.Request{
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(obj.Data)), nil
		},
		Size:    int64(len(obj.Data)),
		Tags:    append(o.baseTags(opts.DeployID), obj.Tags...),
		Funding: opts.Funding,
	}

	var lastErr error
	for attempt := 1; attempt <= o.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx)
		}
		result, err := o.attempt(ctx, req, nil)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, errors.FromContext(ctx)
		}
		lastErr = err
		if !retryable(err) || attempt == o.policy.MaxAttempts {
			return nil, &FileFailure{Path: "object", Attempts: attempt, Err: lastErr}
		}
		if common.WaitOrQuit(ctx, o.backoff(attempt)) {
			return nil, errors.FromContext(ctx)
		}
	}
	return nil, lastErr
}
