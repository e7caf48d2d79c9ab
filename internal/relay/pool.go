package relay

import "sync"

const bufferSize = 32 << 10

var buffers = sync.Pool{
	New: func() any {
		b := make([]byte, bufferSize)
		return &b
	},
}

func getBuffer() *[]byte {
	return buffers.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	buffers.Put(b)
}
