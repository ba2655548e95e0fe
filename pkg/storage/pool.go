package storage

import "sync"

const copyBufferSize = 1 << 20

var bufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, copyBufferSize)
		return &b
	},
}
