// Package files collects the local files that make up a deployment.
package files

import (
	"bytes"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/common"
	"github.com/permadeploy/deployer/code/go/permadeploy/core/logging"
	"go.uber.org/zap"
)

const defaultContentType = "application/octet-stream"

// File is one file selected for deployment. Path is slash separated and relative, with the
// selected folder name as its first segment (e.g. "site/assets/app.js").
type File struct {
	Path        string
	Size        int64
	ContentType string

	open func() (io.ReadCloser, error)
}

// Open returns a fresh reader over the file content.
func (f *File) Open() (io.ReadCloser, error) {
	return f.open()
}

// FromBytes builds an in-memory file. An empty contentType is detected from name and data.
func FromBytes(p string, data []byte, contentType string) *File {
	if contentType == "" {
		contentType = detect(p, func() (string, error) {
			return mimetype.Detect(data).String(), nil
		})
	}
	return &File{
		Path:        p,
		Size:        int64(len(data)),
		ContentType: contentType,
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// FromOpener wraps an arbitrary content source.
func FromOpener(p string, size int64, contentType string, open func() (io.ReadCloser, error)) *File {
	return &File{Path: p, Size: size, ContentType: contentType, open: open}
}

// FromDisk describes a single file on disk under the given relative path.
func FromDisk(abs, rel string) (*File, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, common.NewErrorf("invalid_file", "%s is a directory", abs)
	}
	return &File{
		Path: rel,
		Size: info.Size(),
		ContentType: detect(rel, func() (string, error) {
			m, err := mimetype.DetectFile(abs)
			if err != nil {
				return "", err
			}
			return m.String(), nil
		}),
		open: func() (io.ReadCloser, error) {
			return os.Open(abs)
		},
	}, nil
}

// Walk lists every regular file below root, sorted by path. Hidden entries (dot files and
// dot directories) are skipped.
func Walk(root string) ([]*File, error) {
	root = filepath.Clean(root)
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		f, err := FromDisk(root, filepath.Base(root))
		if err != nil {
			return nil, err
		}
		return []*File{f}, nil
	}

	base := filepath.Base(root)
	var out []*File
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		f, err := FromDisk(p, path.Join(base, filepath.ToSlash(rel)))
		if err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	logging.Logger.Debug("walked deploy folder", zap.String("root", root), zap.Int("files", len(out)))
	return out, nil
}

// TotalSize sums the sizes of files.
func TotalSize(list []*File) int64 {
	var n int64
	for _, f := range list {
		n += f.Size
	}
	return n
}

// detect prefers the extension, which is what browsers rely on for css and js, and falls
// back to content sniffing.
func detect(name string, sniff func() (string, error)) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	ct, err := sniff()
	if err != nil || ct == "" {
		return defaultContentType
	}
	return ct
}
