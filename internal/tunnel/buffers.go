package tunnel

import (
	"io"
	"sync"

	"wsconduit/internal/transport"
)

// CopyBufferSize is the size of each pooled buffer used for splice copies.
// It must be at least transport.MaxDatagramSize: Splice uses the same pool
// for every protocol, and a forward/reverse UDP session's Read returns one
// full datagram per call — a smaller buffer would silently truncate it
// instead of erroring, since io.CopyBuffer treats a short Read as a partial
// but complete chunk.
const CopyBufferSize = transport.MaxDatagramSize

var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, CopyBufferSize)
		return &buf
	},
}

func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

func putBuffer(buf *[]byte) {
	bufferPool.Put(buf)
}

// CopyWithBuffer copies from src to dst using a pooled buffer, avoiding a
// fresh allocation per splice direction.
func CopyWithBuffer(dst io.Writer, src io.Reader) (int64, error) {
	buf := getBuffer()
	defer putBuffer(buf)
	return io.CopyBuffer(dst, src, *buf)
}
