// Package deploy runs a whole deployment: hash, plan, upload, remember, publish the manifest.
package deploy

import (
	"context"
	"encoding/json"

	"github.com/lithammer/shortuuid/v3"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/dedup"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/funding"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/hasher"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/manifest"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/upload"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const DefaultMaxConcurrentDeploys = 2

type Config struct {
	Clients *wallet.Factory
	Hasher  *hasher.Hasher
	// Cache is the content hash cache; nil turns Smart Deploy off.
	Cache dedup.Repository
	// History may be nil.
	History       History
	Policy        upload.Policy
	FreeTierBytes int64
	// MaxConcurrentDeploys bounds pipelines running at once on this engine.
	MaxConcurrentDeploys int
}

type Engine struct {
	cfg     Config
	funding funding.Engine
	slots   *semaphore.Weighted
}

func NewEngine(cfg Config) *Engine {
	if cfg.MaxConcurrentDeploys < 1 {
		cfg.MaxConcurrentDeploys = DefaultMaxConcurrentDeploys
	}
	if cfg.Hasher == nil {
		cfg.Hasher = hasher.New(hasher.Options{})
	}
	return &Engine{
		cfg:   cfg,
		slots: semaphore.NewWeighted(int64(cfg.MaxConcurrentDeploys)),
	}
}

type Options struct {
	// SmartDeploy hashes files and skips those already stored.
	SmartDeploy bool
	// Token overrides the session's payment token.
	Token    *wallet.TokenType
	Payment  funding.PaymentConfig
	Manifest manifest.Options
	Sink     upload.Sink
}

type Result struct {
	ID         string
	ManifestID string
	Manifest   *manifest.Manifest
	Rail       funding.Rail
	Stats      dedup.Stats

	Cached       []*dedup.CachedFile
	Uploaded     []*upload.FileResult
	Failures     []*upload.FileFailure
	HashFailures map[string]error
	Funding      []funding.FundingReceipt
}

// Deploy stores list and publishes its manifest. On cancellation or when too many files fail
// the partial result is returned with the error; a history record is written either way.
func (e *Engine) Deploy(ctx context.Context, list []*files.File, opts Options) (*Result, error) {
	if err := e.slots.Acquire(ctx, 1); err != nil {
		return nil, errors.FromContext(ctx)
	}
	defer e.slots.Release(1)

	res := &Result{ID: shortuuid.New()}

	client, err := e.cfg.Clients.GetClient(ctx, opts.Token)
	if err != nil {
		return nil, err
	}

	decision := e.funding.Decide(client.TokenType, opts.Payment)
	if decision.Rail == funding.RailOnDemand && client.Funder == nil {
		logging.Logger.Warn("no token sender for on-demand funding, using credits",
			zap.String("token", client.TokenType.String()))
		decision = funding.Decision{Rail: funding.RailCredits}
	}
	res.Rail = decision.Rail

	var jit *funding.JITFunder
	fundedBefore := 0
	if f, ok := client.Funder.(*funding.JITFunder); ok {
		jit = f
		fundedBefore = len(f.Receipts())
	}

	logging.Logger.Info("deploy started",
		zap.String("deploy_id", res.ID),
		zap.String("owner", client.Address),
		zap.String("token", client.TokenType.String()),
		zap.String("rail", decision.Rail.String()),
		zap.Int("files", len(list)),
		zap.Bool("smart_deploy", opts.SmartDeploy))

	plan, digests, err := e.plan(ctx, list, opts.SmartDeploy, res)
	if err != nil {
		e.record(ctx, client, res, statusFor(err))
		return res, err
	}

	o := upload.NewOrchestrator(client.Uploader, e.cfg.Policy)
	batchOpts := upload.BatchOptions{
		Digests:  digests,
		Funding:  decision.OnDemand,
		DeployID: res.ID,
	}
	batch, err := o.UploadBatch(ctx, plan.ToUpload, batchOpts, opts.Sink)
	res.Uploaded = batch.Succeeded
	res.Failures = batch.Failures
	e.remember(ctx, opts.SmartDeploy, batch.Succeeded)
	if jit != nil {
		res.Funding = jit.Receipts()[fundedBefore:]
	}
	if err != nil {
		e.record(ctx, client, res, statusFor(err))
		return res, err
	}

	if err := e.publish(ctx, o, batchOpts, opts.Manifest, res); err != nil {
		e.record(ctx, client, res, statusFor(err))
		return res, err
	}
	if jit != nil {
		res.Funding = jit.Receipts()[fundedBefore:]
	}

	status := StatusComplete
	if len(res.Failures) > 0 {
		status = StatusPartial
	}
	e.record(ctx, client, res, status)

	logging.Logger.Info("deploy finished",
		zap.String("deploy_id", res.ID),
		zap.String("manifest_id", res.ManifestID),
		zap.Int("uploaded", len(res.Uploaded)),
		zap.Int("cached", len(res.Cached)),
		zap.Int("failed", len(res.Failures)))
	return res, nil
}

func statusFor(err error) string {
	if errors.Is(err, errors.ErrCancelled) || errors.Is(err, errors.ErrTimeout) {
		return StatusCancelled
	}
	return StatusFailed
}

// plan hashes when Smart Deploy is on and splits list into cached and new files. The digest
// map is only returned, and so only tagged on uploads, when deduplication is active.
func (e *Engine) plan(ctx context.Context, list []*files.File, smart bool, res *Result) (*dedup.Plan, map[string]string, error) {
	var (
		repo    dedup.Repository
		digests map[string]string
	)
	if smart && e.cfg.Cache != nil {
		hashed, err := e.cfg.Hasher.HashFiles(ctx, list)
		if hashed != nil {
			res.HashFailures = hashed.Failures
		}
		if err != nil {
			return nil, nil, err
		}
		repo, digests = e.cfg.Cache, hashed.Digests
	}

	plan, err := dedup.NewPlanner(repo, e.cfg.FreeTierBytes).Plan(ctx, list, digests)
	if err != nil {
		return nil, nil, err
	}
	res.Cached = plan.Cached
	res.Stats = plan.Stats
	return plan, digests, nil
}

// remember records freshly stored content so the next deployment can reuse it. A failed write
// only costs a future re-upload.
func (e *Engine) remember(ctx context.Context, smart bool, uploaded []*upload.FileResult) {
	if !smart || e.cfg.Cache == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, r := range uploaded {
		if r.ContentHash == "" || r.Result == nil {
			continue
		}
		err := e.cfg.Cache.Save(ctx, &dedup.FileHashCacheEntry{
			ContentHash:   r.ContentHash,
			TransactionID: r.Result.ID,
			ByteSize:      r.File.Size,
			ContentType:   r.File.ContentType,
		})
		if err != nil {
			logging.Logger.Warn("could not cache content hash",
				zap.String("path", r.Path),
				zap.Error(err))
		}
	}
}

func (e *Engine) publish(ctx context.Context, o *upload.Orchestrator, batchOpts upload.BatchOptions, mo manifest.Options, res *Result) error {
	cached := make([]manifest.Entry, 0, len(res.Cached))
	for _, c := range res.Cached {
		cached = append(cached, manifest.Entry{Path: c.File.Path, ID: c.Entry.TransactionID})
	}
	uploaded := make([]manifest.Entry, 0, len(res.Uploaded))
	for _, u := range res.Uploaded {
		uploaded = append(uploaded, manifest.Entry{Path: u.Path, ID: u.Result.ID})
	}
	if len(cached)+len(uploaded) == 0 {
		return nil
	}

	m, err := manifest.Build(cached, uploaded, mo)
	if err != nil {
		return err
	}
	res.Manifest = m

	receipt, err := manifest.Publish(ctx, o, m, batchOpts)
	if err != nil {
		return err
	}
	res.ManifestID = receipt.ID
	return nil
}

func (e *Engine) record(ctx context.Context, client *wallet.AuthenticatedClient, res *Result, status string) {
	if e.cfg.History == nil {
		return
	}

	receipt := Receipt{Manifest: res.ManifestID, Rail: res.Rail.String(), Funding: res.Funding}
	for _, c := range res.Cached {
		receipt.Files = append(receipt.Files, FileReceipt{
			Path:   c.File.Path,
			ID:     c.Entry.TransactionID,
			Hash:   c.Hash,
			Cached: true,
		})
	}
	for _, u := range res.Uploaded {
		receipt.Files = append(receipt.Files, FileReceipt{
			Path: u.Path,
			ID:   u.Result.ID,
			Hash: u.ContentHash,
			Winc: u.Result.Price().String(),
		})
	}
	for _, f := range res.Failures {
		receipt.Failures = append(receipt.Failures, FailureReceipt{
			Path:     f.Path,
			Attempts: f.Attempts,
			Error:    f.Err.Error(),
		})
	}
	raw, err := json.Marshal(receipt)
	if err != nil {
		logging.Logger.Error("encode deploy receipt", zap.Error(err))
		return
	}

	d := &Deployment{
		ID:            res.ID,
		ManifestID:    res.ManifestID,
		Owner:         client.Address,
		Token:         client.TokenType.String(),
		TotalFiles:    res.Stats.TotalFiles,
		CachedFiles:   len(res.Cached),
		UploadedFiles: len(res.Uploaded),
		FailedFiles:   len(res.Failures),
		TotalBytes:    res.Stats.TotalBytes,
		BillableBytes: res.Stats.BillableBytes,
		Status:        status,
		Receipt:       raw,
	}
	if err := e.cfg.History.Save(context.WithoutCancel(ctx), d); err != nil {
		logging.Logger.Error("save deploy record",
			zap.String("deploy_id", res.ID),
			zap.Error(err))
	}
}

// Pricer quotes the upload cost of a byte count.
type Pricer interface {
	GetUploadCost(ctx context.Context, bytes int64) (decimal.Decimal, error)
}

type Estimate struct {
	Stats dedup.Stats
	// Cost is the winc the upload is expected to charge, SavedCost what Smart Deploy avoids.
	Cost      decimal.Decimal
	SavedCost decimal.Decimal
}

// Estimate plans list without uploading and prices the billable bytes. Nothing is priced
// when everything fits in the free tier or is already stored.
func (e *Engine) Estimate(ctx context.Context, list []*files.File, smart bool, pricer Pricer) (*Estimate, error) {
	res := &Result{}
	plan, _, err := e.plan(ctx, list, smart, res)
	if err != nil {
		return nil, err
	}

	est := &Estimate{Stats: plan.Stats, Cost: decimal.Zero, SavedCost: decimal.Zero}
	if plan.Stats.BillableBytes == 0 && plan.Stats.SavedBytes == 0 {
		return est, nil
	}

	quoteBytes := plan.Stats.BillableBytes
	if quoteBytes == 0 {
		quoteBytes = plan.Stats.SavedBytes
	}
	quote, err := pricer.GetUploadCost(ctx, quoteBytes)
	if err != nil {
		return nil, err
	}
	perByte := quote.Div(decimal.NewFromInt(quoteBytes))

	if plan.Stats.BillableBytes > 0 {
		est.Cost = quote
	}
	est.SavedCost = dedup.EstimateCost(plan.Stats.SavedBytes, perByte)
	return est, nil
}
