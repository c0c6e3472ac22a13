package timeseries

import "marketpulse/pkg/market"

// ring is a fixed-capacity FIFO of candles ordered by open time. Pushing onto a
// full ring overwrites the oldest element.
type ring struct {
	buf  []market.Candle
	head int // index of the oldest element
	size int
	rev  uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]market.Candle, capacity)}
}

func (r *ring) capacity() int { return len(r.buf) }

func (r *ring) push(c market.Candle) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = c
		r.size++
	} else {
		r.buf[r.head] = c
		r.head = (r.head + 1) % len(r.buf)
	}
	r.rev++
}

// at returns the i-th element counted from the oldest.
func (r *ring) at(i int) market.Candle {
	return r.buf[(r.head+i)%len(r.buf)]
}

func (r *ring) last() (market.Candle, bool) {
	if r.size == 0 {
		return market.Candle{}, false
	}
	return r.at(r.size - 1), true
}

func (r *ring) first() (market.Candle, bool) {
	if r.size == 0 {
		return market.Candle{}, false
	}
	return r.at(0), true
}

func (r *ring) snapshot() []market.Candle {
	out := make([]market.Candle, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.at(i)
	}
	return out
}

// reset replaces the contents, keeping only the newest capacity elements.
func (r *ring) reset(candles []market.Candle) {
	if n := len(candles); n > len(r.buf) {
		candles = candles[n-len(r.buf):]
	}
	for i := range r.buf {
		r.buf[i] = market.Candle{}
	}
	copy(r.buf, candles)
	r.head = 0
	r.size = len(candles)
	r.rev++
}
