package exposition

import (
	"bytes"
	"context"
	"io"
)

// DefaultChunkSize is the size a chunk is filled to before it is handed out.
const DefaultChunkSize = 1 << 20

// Chunker pumps an Exposition into chunks of roughly a target size.
type Chunker struct {
	e      Exposition
	target int
	buf    bytes.Buffer
}

// NewChunker returns a Chunker for e. A target of zero or less uses
// DefaultChunkSize.
func NewChunker(e Exposition, target int) *Chunker {
	if target <= 0 {
		target = DefaultChunkSize
	}
	return &Chunker{e: e, target: target}
}

// Next returns the next chunk. Slices are appended until the chunk reaches
// the target size or the document ends, so a chunk may exceed the target by
// at most one slice. After the last chunk Next returns io.EOF.
//
// The returned bytes are only valid until the following call. If ctx is
// done Next closes the exposition and returns ctx.Err().
func (c *Chunker) Next(ctx context.Context) ([]byte, error) {
	c.buf.Reset()
	for c.buf.Len() < c.target && !c.e.EOF() {
		if err := ctx.Err(); err != nil {
			c.e.Close()
			return nil, err
		}
		c.e.NextSlice(&c.buf)
	}
	if c.buf.Len() == 0 && c.e.EOF() {
		return nil, io.EOF
	}
	return c.buf.Bytes(), nil
}

// Close releases the exposition.
func (c *Chunker) Close() {
	c.e.Close()
}

// Stream streams the whole document to w, one chunk per Write, and calls
// flush after each chunk when it is non-nil. It stops at the first write
// error or when ctx is done.
func (c *Chunker) Stream(ctx context.Context, w io.Writer, flush func()) (int64, error) {
	defer c.Close()

	var n int64
	for {
		chunk, err := c.Next(ctx)
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		written, err := w.Write(chunk)
		n += int64(written)
		if err != nil {
			return n, err
		}
		if flush != nil {
			flush()
		}
	}
}
