// Package manifest builds the path manifest that maps a deployed folder onto stored objects.
package manifest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/encryption"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/errors"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/upload"
	"go.uber.org/zap"
)

// ErrInvalidManifest matches, by code, entries that cannot be put in a manifest.
var ErrInvalidManifest = common.NewError("invalid_manifest", "manifest entry is invalid")

const (
	Kind        = "arweave/paths"
	Version     = "0.2.0"
	ContentType = "application/x.arweave-manifest+json"

	DefaultIndex = "index.html"
)

type Path struct {
	ID string `json:"id"`
}

type Index struct {
	Path string `json:"path"`
}

type Manifest struct {
	Manifest string          `json:"manifest"`
	Version  string          `json:"version"`
	Index    Index           `json:"index"`
	Fallback *Path           `json:"fallback,omitempty"`
	Paths    map[string]Path `json:"paths"`
}

// Entry is one file of the deployment and the object it is stored as.
type Entry struct {
	Path string
	ID   string
}

type Options struct {
	Index string
	// Fallback names the file served for unknown paths, e.g. "404.html".
	Fallback string
}

// Build merges cached and freshly uploaded entries into a manifest. When every path starts
// with the same folder name, that folder is stripped so the manifest is rooted at it.
func Build(cached, uploaded []Entry, opts Options) (*Manifest, error) {
	all := make([]Entry, 0, len(cached)+len(uploaded))
	all = append(all, cached...)
	all = append(all, uploaded...)

	root := commonRoot(all)
	paths := make(map[string]Path, len(all))
	for _, e := range all {
		if e.ID == "" {
			return nil, common.NewErrorf(ErrInvalidManifest.Code, "no stored object for %s", e.Path)
		}
		p := normalize(e.Path)
		if root != "" {
			p = strings.TrimPrefix(p, root+"/")
		}
		paths[p] = Path{ID: e.ID}
	}

	index := opts.Index
	if index == "" {
		index = DefaultIndex
	}
	m := &Manifest{
		Manifest: Kind,
		Version:  Version,
		Index:    Index{Path: index},
		Paths:    paths,
	}

	if opts.Fallback != "" {
		id, err := ResolveFallback(paths, opts.Fallback, root)
		if err != nil {
			logging.Logger.Warn("manifest fallback not found, publishing without one",
				zap.String("fallback", opts.Fallback))
		} else {
			m.Fallback = &Path{ID: id}
		}
	}
	return m, nil
}

// ResolveFallback finds the object for fallback: an exact path, then the path with root
// removed, then the alphabetically first path ending in it.
func ResolveFallback(paths map[string]Path, fallback, root string) (string, error) {
	want := normalize(fallback)
	if p, ok := paths[want]; ok {
		return p.ID, nil
	}
	if root != "" {
		if p, ok := paths[strings.TrimPrefix(want, root+"/")]; ok {
			return p.ID, nil
		}
	}

	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == want || strings.HasSuffix(k, "/"+want) {
			return paths[k].ID, nil
		}
	}
	return "", errors.Throw(errors.ErrManifestFallbackUnresolved, fallback)
}

// Marshal encodes m in the wire format.
func Marshal(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// Publish stores m through the orchestrator and returns its receipt; the receipt id is the
// deployment's address.
func Publish(ctx context.Context, o *upload.Orchestrator, m *Manifest, opts upload.BatchOptions) (*transport.UploadResult, error) {
	data, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	res, err := o.UploadObject(ctx, upload.Object{
		Data: data,
		Tags: []transport.Tag{
			{Name: "Content-Type", Value: ContentType},
			{Name: "Type", Value: "manifest"},
			{Name: upload.TagFileHash, Value: encryption.Hash(data)},
		},
	}, opts)
	if err != nil {
		return nil, err
	}
	logging.Logger.Info("manifest published",
		zap.String("id", res.ID),
		zap.Int("paths", len(m.Paths)))
	return res, nil
}

func normalize(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "/")
}

// commonRoot is the first segment shared by every path, or "" when they differ or any path
// sits at the top level.
func commonRoot(entries []Entry) string {
	root := ""
	for i, e := range entries {
		p := normalize(e.Path)
		idx := strings.Index(p, "/")
		if idx <= 0 {
			return ""
		}
		seg := p[:idx]
		if i == 0 {
			root = seg
		} else if seg != root {
			return ""
		}
	}
	return root
}
