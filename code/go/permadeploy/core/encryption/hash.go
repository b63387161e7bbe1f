package encryption

import (
	"context"
	"encoding/hex"
	"io"

	"github.com/minio/sha256-simd"
)

const hashChunkSize = 1 << 20

/*Hash - hex encoded sha256 of the given data */
func Hash(data interface{}) string {
	var buf []byte
	switch dataImpl := data.(type) {
	case []byte:
		buf = dataImpl
	case string:
		buf = []byte(dataImpl)
	default:
		panic("unknown type")
	}
	h := sha256.Sum256(buf)
	return hex.EncodeToString(h[:])
}

// HashReader streams r through sha256 and returns the hex digest. ctx is checked
// between chunks so a cancelled or timed out caller stops reading promptly.
func HashReader(ctx context.Context, r io.Reader) (string, int64, error) {
	h := sha256.New()
	buf := make([]byte, hashChunkSize)

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return "", total, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = h.Write(buf[:n])
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", total, err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), total, nil
}
