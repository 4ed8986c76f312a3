package health

import (
	"math/bits"
	"sync/atomic"
)

const (
	bitsPerUint64Shift = 6  // log2(64)
	bitMask            = 63 // 2^6 - 1
)

// ring 比特环，最近 N 次请求每次占一位，1 表示失败
type ring struct {
	buffer   []uint64
	reqCount uint64
	bitCnt   uint64
}

// newRing size 向上取整到 64 的倍数
func newRing(size int) *ring {
	words := (size + bitMask) >> bitsPerUint64Shift
	if words <= 0 {
		words = 1
	}
	return &ring{
		buffer: make([]uint64, words),
		bitCnt: uint64(words) << bitsPerUint64Shift,
	}
}

func (r *ring) size() int {
	return int(r.bitCnt)
}

func (r *ring) mark(failed bool) {
	count := atomic.AddUint64(&r.reqCount, 1)
	count %= r.bitCnt
	// count / 64 和 count % 64 用位运算代替
	idx := count >> bitsPerUint64Shift
	bitPos := count & bitMask
	for {
		old := atomic.LoadUint64(&r.buffer[idx])
		var val uint64
		if failed {
			val = old | (uint64(1) << bitPos)
		} else {
			val = old &^ (uint64(1) << bitPos)
		}
		if atomic.CompareAndSwapUint64(&r.buffer[idx], old, val) {
			return
		}
	}
}

func (r *ring) failures() int {
	var cnt int
	for i := range r.buffer {
		cnt += bits.OnesCount64(atomic.LoadUint64(&r.buffer[i]))
	}
	return cnt
}

func (r *ring) reset() {
	for i := range r.buffer {
		atomic.StoreUint64(&r.buffer[i], 0)
	}
}
