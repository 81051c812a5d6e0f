// Package market holds candle data structures and the indicator math that
// annotates them.
package market

import "time"

// Candle is one OHLCV sample for a fixed time bucket.
type Candle struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Series is an ordered candle sequence, ascending by OpenTime, one entry per
// sampling interval. A series is owned by the cycle that fetched it and is
// never mutated after that.
type Series []Candle

// Last returns the most recent candle.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}
