package market

// Indicator is a computed value that may not exist yet. Value is meaningless
// while Valid is false; callers must check before comparing.
type Indicator struct {
	Value float64
	Valid bool
}

// AnnotatedCandle is a candle plus the trailing-window indicators derived
// from it and its predecessors.
type AnnotatedCandle struct {
	Candle
	SMAFast Indicator
	SMASlow Indicator
	RSI     Indicator
}

// Annotate computes fast/slow simple moving averages and RSI for every candle
// in the series. The output has the same length and ordering as the input and
// is a pure function of it: re-annotating the same series yields identical
// output. Each indicator stays invalid until its full trailing window exists
// (no look-ahead). Windows slide in O(N) total rather than recomputing per
// index.
func Annotate(series Series, fastWindow, slowWindow, rsiWindow int) []AnnotatedCandle {
	out := make([]AnnotatedCandle, len(series))
	for i, c := range series {
		out[i] = AnnotatedCandle{Candle: c}
	}

	annotateSMA(series, out, fastWindow, func(a *AnnotatedCandle, v Indicator) { a.SMAFast = v })
	annotateSMA(series, out, slowWindow, func(a *AnnotatedCandle, v Indicator) { a.SMASlow = v })
	annotateRSI(series, out, rsiWindow)
	return out
}

func annotateSMA(series Series, out []AnnotatedCandle, window int, set func(*AnnotatedCandle, Indicator)) {
	if window <= 0 || len(series) < window {
		return
	}
	var sum float64
	for i, c := range series {
		sum += c.Close
		if i >= window {
			sum -= series[i-window].Close
		}
		if i >= window-1 {
			set(&out[i], Indicator{Value: sum / float64(window), Valid: true})
		}
	}
}

// annotateRSI follows the rolling-mean formulation: per-step deltas split
// into gains and losses, trailing means of each, RSI = 100 - 100/(1+RS).
// A zero loss mean pins RSI at 100 rather than dividing by zero.
func annotateRSI(series Series, out []AnnotatedCandle, window int) {
	if window <= 0 || len(series) < window+1 {
		return
	}
	gains := make([]float64, len(series))
	losses := make([]float64, len(series))
	for i := 1; i < len(series); i++ {
		delta := series[i].Close - series[i-1].Close
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	var gainSum, lossSum float64
	for i := 1; i < len(series); i++ {
		gainSum += gains[i]
		lossSum += losses[i]
		if i > window {
			gainSum -= gains[i-window]
			lossSum -= losses[i-window]
		}
		if i < window {
			continue
		}
		lossMean := lossSum / float64(window)
		if lossMean == 0 {
			out[i].RSI = Indicator{Value: 100, Valid: true}
			continue
		}
		gainMean := gainSum / float64(window)
		rs := gainMean / lossMean
		out[i].RSI = Indicator{Value: 100 - 100/(1+rs), Valid: true}
	}
}
