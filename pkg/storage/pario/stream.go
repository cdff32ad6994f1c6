package pario

import (
	"io"
	"os"

	storerr "github.com/cirrusfs/cirrus/pkg/storage/errors"
)

// ChunkReader streams a file as fixed-size chunks from a positioned handle.
// Closing the reader drops the handle; a partially consumed stream needs no
// other cleanup.
type ChunkReader struct {
	f         *os.File
	chunkSize int
	size      int64
	offset    int64
}

// OpenStream opens absPath for sequential chunked reading.
func OpenStream(absPath string, chunkSize int) (*ChunkReader, error) {
	if chunkSize <= 0 {
		chunkSize = bufSizeFallback
	}
	f, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storerr.NewNotFoundError(component, "file", absPath)
		}
		return nil, storerr.NewIOError(component, "failed to open file for streaming", absPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storerr.NewIOError(component, "failed to stat file for streaming", absPath, err)
	}
	return &ChunkReader{f: f, chunkSize: chunkSize, size: info.Size()}, nil
}

const bufSizeFallback = 64 * 1024

// Size returns the total stream length in bytes.
func (r *ChunkReader) Size() int64 {
	return r.size
}

// Next returns the next chunk, at most chunkSize bytes. io.EOF signals the
// end of the stream; the returned slice is owned by the caller.
func (r *ChunkReader) Next() ([]byte, error) {
	if r.offset >= r.size {
		return nil, io.EOF
	}

	want := int64(r.chunkSize)
	if remaining := r.size - r.offset; remaining < want {
		want = remaining
	}

	chunk := make([]byte, want)
	n, err := io.ReadFull(r.f, chunk)
	r.offset += int64(n)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, storerr.NewIOError(component, "failed to read stream chunk", r.f.Name(), err)
	}
	return chunk[:n], nil
}

// Read implements io.Reader over the same handle.
func (r *ChunkReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	r.offset += int64(n)
	return n, err
}

// Close releases the file handle.
func (r *ChunkReader) Close() error {
	return r.f.Close()
}
