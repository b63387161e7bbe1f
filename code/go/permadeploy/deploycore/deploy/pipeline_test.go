package deploy

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/util"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/datastore"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/dedup"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/files"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/funding"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/hasher"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/manifest"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/upload"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "owner-address"

type stubSigner struct{}

func (stubSigner) Family() wallet.WalletType         { return wallet.WalletArweave }
func (stubSigner) Address() string                   { return owner }
func (stubSigner) Prepare(ctx context.Context) error { return nil }

func (stubSigner) SignDataItem(ctx context.Context, data []byte, tags []transport.Tag) (*transport.SignedDataItem, error) {
	return &transport.SignedDataItem{ID: "item", Bytes: data}, nil
}

// storeUploader answers with "tx-<path>" ids, "manifest-id" for the manifest.
type storeUploader struct {
	mu      sync.Mutex
	paths   []string
	tags    map[string][]transport.Tag
	fail    map[string]bool
	hang    bool
	started chan struct{}
}

func newStoreUploader() *storeUploader {
	return &storeUploader{tags: map[string][]transport.Tag{}, fail: map[string]bool{}}
}

func tagValue(tags []transport.Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

func (u *storeUploader) Upload(ctx context.Context, req *transport.Request, progress util.ProgressFunc) (*transport.UploadResult, error) {
	if tagValue(req.Tags, "Type") == "manifest" {
		return &transport.UploadResult{ID: "manifest-id", Winc: "0"}, nil
	}
	path := tagValue(req.Tags, upload.TagFilePath)

	u.mu.Lock()
	u.paths = append(u.paths, path)
	u.tags[path] = req.Tags
	fail, hang := u.fail[path], u.hang
	u.mu.Unlock()

	if hang {
		if u.started != nil {
			select {
			case u.started <- struct{}{}:
			default:
			}
		}
		<-ctx.Done()
		return nil, errors.FromContext(ctx)
	}
	if fail {
		return nil, errors.Throw(errors.ErrNetworkError, "refused "+path)
	}
	return &transport.UploadResult{ID: "tx-" + path, Winc: "10"}, nil
}

func (u *storeUploader) uploaded() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.paths...)
}

type fixture struct {
	engine  *Engine
	up      *storeUploader
	repo    *dedup.GormRepository
	history *GormHistory
	files   []*files.File
}

func siteFiles() []*files.File {
	return []*files.File{
		files.FromBytes("site/index.html", []byte("<html>home</html>"), "text/html"),
		files.FromBytes("site/a.css", []byte("body{}"), "text/css"),
		files.FromBytes("site/b.js", []byte("console.log(1)"), "application/javascript"),
		files.FromBytes("site/img/logo.png", []byte("png-bytes"), "image/png"),
		files.FromBytes("site/404.html", []byte("<html>lost</html>"), "text/html"),
	}
}

func newFixture(t *testing.T, policy upload.Policy, builder wallet.ClientBuilder, maxDeploys int) *fixture {
	store, err := datastore.UseInMemory()
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.AutoMigrate())

	up := newStoreUploader()
	if builder == nil {
		builder = func(ctx context.Context, signer wallet.Signer, token wallet.TokenType) (*wallet.AuthenticatedClient, error) {
			return &wallet.AuthenticatedClient{
				Address:    signer.Address(),
				WalletType: signer.Family(),
				TokenType:  token,
				Signer:     signer,
				Uploader:   up,
			}, nil
		}
	}
	factory, err := wallet.NewFactory(wallet.StaticSurface{Signer: stubSigner{}}, builder, 2)
	require.NoError(t, err)
	factory.SetSession(wallet.Session{WalletType: wallet.WalletArweave, Address: owner})

	f := &fixture{
		up:      up,
		repo:    dedup.NewGormRepository(store.GetDB(), time.Minute),
		history: NewGormHistory(store.GetDB()),
		files:   siteFiles(),
	}
	f.engine = NewEngine(Config{
		Clients:              factory,
		Hasher:               hasher.New(hasher.Options{}),
		Cache:                f.repo,
		History:              f.history,
		Policy:               policy,
		MaxConcurrentDeploys: maxDeploys,
	})
	return f
}

// seed records the content of the named files as already stored under ids.
func (f *fixture) seed(t *testing.T, ids map[string]string) {
	var list []*files.File
	for _, file := range f.files {
		if _, ok := ids[file.Path]; ok {
			list = append(list, file)
		}
	}
	hashed, err := hasher.New(hasher.Options{}).HashFiles(context.Background(), list)
	require.NoError(t, err)
	for path, id := range ids {
		require.NoError(t, f.repo.Save(context.Background(), &dedup.FileHashCacheEntry{
			ContentHash:   hashed.Digests[path],
			TransactionID: id,
		}))
	}
}

func (f *fixture) onlyRecord(t *testing.T) *Deployment {
	list, err := f.history.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	return list[0]
}

func TestDeploySmartDeploySkipsCachedFiles(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	f.seed(t, map[string]string{"site/a.css": "T1", "site/b.js": "T2"})

	res, err := f.engine.Deploy(context.Background(), f.files, Options{
		SmartDeploy: true,
		Manifest:    manifest.Options{Fallback: "404.html"},
	})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"site/index.html", "site/img/logo.png", "site/404.html"}, f.up.uploaded())
	assert.Len(t, res.Cached, 2)
	assert.Len(t, res.Uploaded, 3)
	assert.Equal(t, 2, res.Stats.CachedFiles)
	assert.Equal(t, funding.RailCredits, res.Rail)

	assert.Equal(t, "manifest-id", res.ManifestID)
	require.NotNil(t, res.Manifest)
	assert.Equal(t, map[string]manifest.Path{
		"index.html":   {ID: "tx-site/index.html"},
		"a.css":        {ID: "T1"},
		"b.js":         {ID: "T2"},
		"img/logo.png": {ID: "tx-site/img/logo.png"},
		"404.html":     {ID: "tx-site/404.html"},
	}, res.Manifest.Paths)
	require.NotNil(t, res.Manifest.Fallback)
	assert.Equal(t, "tx-site/404.html", res.Manifest.Fallback.ID)

	tags := f.up.tags["site/index.html"]
	assert.NotEmpty(t, tagValue(tags, upload.TagFileHash))
	assert.Equal(t, res.ID, tagValue(tags, upload.TagDeployID))

	// new content is remembered for the next deploy
	hash := tagValue(tags, upload.TagFileHash)
	found, err := f.repo.Lookup(context.Background(), []string{hash})
	require.NoError(t, err)
	require.Contains(t, found, hash)
	assert.Equal(t, "tx-site/index.html", found[hash].TransactionID)

	rec := f.onlyRecord(t)
	assert.Equal(t, res.ID, rec.ID)
	assert.Equal(t, StatusComplete, rec.Status)
	assert.Equal(t, "manifest-id", rec.ManifestID)
	assert.Equal(t, owner, rec.Owner)
	assert.Equal(t, 5, rec.TotalFiles)
	assert.Equal(t, 2, rec.CachedFiles)
	assert.Equal(t, 3, rec.UploadedFiles)

	var receipt Receipt
	require.NoError(t, json.Unmarshal(rec.Receipt, &receipt))
	assert.Equal(t, "manifest-id", receipt.Manifest)
	assert.Len(t, receipt.Files, 5)
}

func TestDeploySecondRunReusesEverything(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)

	_, err := f.engine.Deploy(context.Background(), f.files, Options{SmartDeploy: true})
	require.NoError(t, err)
	require.Len(t, f.up.uploaded(), 5)

	res, err := f.engine.Deploy(context.Background(), siteFiles(), Options{SmartDeploy: true})
	require.NoError(t, err)
	assert.Len(t, f.up.uploaded(), 5, "nothing uploaded again")
	assert.Len(t, res.Cached, 5)
	assert.Equal(t, "tx-site/b.js", res.Manifest.Paths["b.js"].ID)
}

func TestDeployWithoutSmartDeploy(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	f.seed(t, map[string]string{"site/a.css": "T1"})

	res, err := f.engine.Deploy(context.Background(), f.files, Options{})
	require.NoError(t, err)

	assert.Len(t, f.up.uploaded(), 5)
	assert.Empty(t, res.Cached)
	assert.Empty(t, tagValue(f.up.tags["site/a.css"], upload.TagFileHash))
	assert.Equal(t, "tx-site/a.css", res.Manifest.Paths["a.css"].ID)

	list, err := f.repo.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "cache untouched")
}

func TestDeployPartialFailure(t *testing.T) {
	f := newFixture(t, upload.Policy{MaxAttempts: 1, MaxFailureRatio: 0.5}, nil, 0)
	f.up.fail["site/b.js"] = true

	res, err := f.engine.Deploy(context.Background(), f.files, Options{})
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "site/b.js", res.Failures[0].Path)
	assert.Len(t, res.Manifest.Paths, 4)
	assert.NotContains(t, res.Manifest.Paths, "b.js")

	rec := f.onlyRecord(t)
	assert.Equal(t, StatusPartial, rec.Status)
	assert.Equal(t, 1, rec.FailedFiles)

	var receipt Receipt
	require.NoError(t, json.Unmarshal(rec.Receipt, &receipt))
	require.Len(t, receipt.Failures, 1)
	assert.True(t, strings.Contains(receipt.Failures[0].Error, "refused"))
}

func TestDeployTooManyFailures(t *testing.T) {
	f := newFixture(t, upload.Policy{MaxAttempts: 1}, nil, 0)
	f.up.fail["site/a.css"] = true

	res, err := f.engine.Deploy(context.Background(), f.files, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTooManyFailures))
	assert.Empty(t, res.ManifestID)
	assert.Len(t, res.Uploaded, 4)

	assert.Equal(t, StatusFailed, f.onlyRecord(t).Status)
}

func TestDeployCancel(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	f.up.hang = true
	f.up.started = make(chan struct{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.up.started
		cancel()
	}()

	res, err := f.engine.Deploy(ctx, f.files, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Empty(t, res.ManifestID)
	assert.Equal(t, StatusCancelled, f.onlyRecord(t).Status)
}

func TestDeployConcurrencyLimit(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 1)
	f.up.hang = true
	f.up.started = make(chan struct{}, 1)

	first, cancelFirst := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.engine.Deploy(first, f.files, Options{})
	}()
	<-f.up.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := f.engine.Deploy(ctx, siteFiles(), Options{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, errors.ErrTimeout))

	cancelFirst()
	<-done
}

func TestDeployJITWithoutFunderUsesCredits(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	ario := wallet.TokenARIO

	res, err := f.engine.Deploy(context.Background(), f.files, Options{
		Token:   &ario,
		Payment: funding.PaymentConfig{Mode: funding.ModeJIT},
	})
	require.NoError(t, err)
	assert.Equal(t, funding.RailCredits, res.Rail)
	assert.Equal(t, "ario", f.onlyRecord(t).Token)
}

func TestDeployRequiresSession(t *testing.T) {
	factory, err := wallet.NewFactory(wallet.StaticSurface{}, nil, 1)
	require.NoError(t, err)
	e := NewEngine(Config{Clients: factory})

	_, err = e.Deploy(context.Background(), siteFiles(), Options{})
	assert.True(t, errors.Is(err, errors.ErrWalletNotConnected))
}

type doublePricer struct {
	quoted []int64
}

func (p *doublePricer) GetUploadCost(ctx context.Context, bytes int64) (decimal.Decimal, error) {
	p.quoted = append(p.quoted, bytes)
	return decimal.NewFromInt(bytes * 2), nil
}

func TestEstimate(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	f.seed(t, map[string]string{"site/a.css": "T1"})

	pricer := &doublePricer{}
	est, err := f.engine.Estimate(context.Background(), f.files, true, pricer)
	require.NoError(t, err)

	cssSize := int64(len("body{}"))
	total := files.TotalSize(f.files)
	assert.Equal(t, total-cssSize, est.Stats.BillableBytes)
	assert.True(t, decimal.NewFromInt(2*(total-cssSize)).Equal(est.Cost), est.Cost.String())
	assert.True(t, decimal.NewFromInt(2*cssSize).Equal(est.SavedCost), est.SavedCost.String())
	assert.Equal(t, []int64{total - cssSize}, pricer.quoted)
	assert.Empty(t, f.up.uploaded())
}

func TestEstimateFreeTier(t *testing.T) {
	f := newFixture(t, upload.Policy{}, nil, 0)
	f.engine.cfg.FreeTierBytes = 100 << 10

	pricer := &doublePricer{}
	est, err := f.engine.Estimate(context.Background(), f.files[:1], false, pricer)
	require.NoError(t, err)
	assert.True(t, est.Cost.IsZero())
	assert.Empty(t, pricer.quoted, "nothing billable, nothing priced")
}
