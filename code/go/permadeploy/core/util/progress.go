package util

import (
	"io"
	"sync/atomic"
)

// ProgressFunc receives the number of bytes read so far and the expected total.
type ProgressFunc func(processed, total int64)

// ProgressReader wraps r and reports every read to fn.
type ProgressReader struct {
	r     io.Reader
	total int64
	read  atomic.Int64
	fn    ProgressFunc
}

func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) *ProgressReader {
	return &ProgressReader{r: r, total: total, fn: fn}
}

func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		done := p.read.Add(int64(n))
		if p.fn != nil {
			p.fn(done, p.total)
		}
	}
	return n, err
}

// Processed returns the bytes read so far.
func (p *ProgressReader) Processed() int64 {
	return p.read.Load()
}
