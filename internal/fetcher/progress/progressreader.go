package progress

import "io"

// Reader wraps an io.Reader and reports every successfully read chunk via a
// callback. Streaming consumers use it to feed per-chunk byte counts into
// the transfer registry as the response body is drained.
type Reader struct {
	Reader  io.Reader
	OnChunk func(n int64)

	totalRead int64
}

func NewReader(r io.Reader, onChunk func(n int64)) *Reader {
	return &Reader{Reader: r, OnChunk: onChunk}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)

		if pr.OnChunk != nil {
			pr.OnChunk(int64(n))
		}
	}

	return n, err
}

// TotalRead returns the cumulative number of bytes read so far.
func (pr *Reader) TotalRead() int64 {
	return pr.totalRead
}
