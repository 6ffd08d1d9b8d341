package handler

import "sync"

// framePool recycles fixed-size byte slices used for outbound audio
// frames, avoiding one allocation per 20ms frame on a hot output path.
var framePool = sync.Pool{
	New: func() any {
		return make([]byte, 0, DefaultOutputFrameSize)
	},
}

func getFrame(size int) []byte {
	buf := framePool.Get().([]byte)
	if cap(buf) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func putFrame(buf []byte) {
	//nolint:staticcheck // intentionally resetting length before returning to the pool
	framePool.Put(buf[:0])
}
