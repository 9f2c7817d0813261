// Package indicators provides pure, deterministic technical indicators
// over candle series. Every function is allocation-bounded (O(n) per
// call) and free of global state.
package indicators

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/goldpulse/internal/domain"
)

// ErrInsufficientData tags series too short for the requested indicator.
// Callers convert it into the insufficient-data result variant; it never
// aborts a pipeline.
var ErrInsufficientData = errors.New("insufficient data")

// Standard periods.
const (
	RSIPeriod        = 14
	MACDFast         = 12
	MACDSlow         = 26
	MACDSignalPeriod = 9
	BollingerPeriod  = 20
	BollingerStdDev  = 2.0
	ATRPeriod        = 14
	StochKPeriod     = 14
	StochDPeriod     = 3
	ADXPeriod        = 14
	MFIPeriod        = 14
	CCIPeriod        = 20
	WilliamsPeriod   = 14
)

// MinHistory is the shortest series a full snapshot can be computed
// from: the MACD signal line needs slow + signal bars.
const MinHistory = MACDSlow + MACDSignalPeriod

// SqueezeBandwidthPercentile flags a Bollinger squeeze when the current
// band width sits below this percentile of its own history.
const SqueezeBandwidthPercentile = 0.20

// Snapshot is the full indicator set over one candle series. Latest
// values are scalars; series needed by downstream analyzers (divergence,
// momentum progression) are retained.
type Snapshot struct {
	Close float64

	RSI       float64
	RSISeries []float64

	MACD           float64
	MACDSignal     float64
	MACDHist       float64
	MACDHistSeries []float64

	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	BBPosition float64 // (close-lower)/(upper-lower), clamped to [0,1]
	Squeeze    bool

	ATR       float64
	ATRPct    float64 // ATR / close
	ATRSeries []float64

	StochK float64
	StochD float64

	ADX     float64
	PlusDI  float64
	MinusDI float64

	MFI       float64
	CCI       float64
	WilliamsR float64
	OBV       float64
	VWAP      float64

	SMA20 float64
	SMA50 float64
	EMA12 float64
	EMA26 float64

	Pivots PivotLevels
}

// PivotLevels are classic floor-trader pivots from the last sealed bar.
type PivotLevels struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	R2    float64 `json:"r2"`
	S1    float64 `json:"s1"`
	S2    float64 `json:"s2"`
}

// Compute derives the full snapshot. Returns ErrInsufficientData when
// the series is shorter than MinHistory.
func Compute(candles []domain.Candle) (*Snapshot, error) {
	if len(candles) < MinHistory {
		return nil, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), MinHistory)
	}

	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	volume := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
		// Tick count stands in for volume; the spot feed carries no size.
		volume[i] = float64(c.TickCount)
	}

	s := &Snapshot{Close: closes[len(closes)-1]}

	s.RSISeries = talib.Rsi(closes, RSIPeriod)
	s.RSI = last(s.RSISeries)

	macd, signal, hist := talib.Macd(closes, MACDFast, MACDSlow, MACDSignalPeriod)
	s.MACD = last(macd)
	s.MACDSignal = last(signal)
	s.MACDHist = last(hist)
	s.MACDHistSeries = hist

	upper, middle, lower := talib.BBands(closes, BollingerPeriod, BollingerStdDev, BollingerStdDev, talib.SMA)
	s.BBUpper = last(upper)
	s.BBMiddle = last(middle)
	s.BBLower = last(lower)
	s.BBPosition = bollingerPosition(s.Close, s.BBUpper, s.BBLower)
	s.Squeeze = bollingerSqueeze(upper, middle, lower)

	s.ATRSeries = talib.Atr(high, low, closes, ATRPeriod)
	s.ATR = last(s.ATRSeries)
	if s.Close > 0 {
		s.ATRPct = s.ATR / s.Close
	}

	slowK, slowD := talib.Stoch(high, low, closes, StochKPeriod, StochDPeriod, talib.SMA, StochDPeriod, talib.SMA)
	s.StochK = last(slowK)
	s.StochD = last(slowD)

	s.ADX = last(talib.Adx(high, low, closes, ADXPeriod))
	s.PlusDI = last(talib.PlusDI(high, low, closes, ADXPeriod))
	s.MinusDI = last(talib.MinusDI(high, low, closes, ADXPeriod))

	s.MFI = last(talib.Mfi(high, low, closes, volume, MFIPeriod))
	s.CCI = last(talib.Cci(high, low, closes, CCIPeriod))
	s.WilliamsR = last(talib.WillR(high, low, closes, WilliamsPeriod))
	s.OBV = last(talib.Obv(closes, volume))
	s.VWAP = vwap(high, low, closes, volume)

	s.SMA20 = last(talib.Sma(closes, 20))
	if len(closes) >= 50 {
		s.SMA50 = last(talib.Sma(closes, 50))
	}
	s.EMA12 = last(talib.Ema(closes, MACDFast))
	s.EMA26 = last(talib.Ema(closes, MACDSlow))

	prior := candles[len(candles)-1]
	if len(candles) >= 2 {
		prior = candles[len(candles)-2]
	}
	s.Pivots = pivots(prior)

	return s, nil
}

// ATRValue computes only the latest ATR over a (possibly short) series.
// Used on USD/TRY where the full snapshot is not needed.
func ATRValue(candles []domain.Candle, period int) (atr, atrPct float64, err error) {
	if len(candles) < period+1 {
		return 0, 0, fmt.Errorf("%w: have %d candles, need %d", ErrInsufficientData, len(candles), period+1)
	}
	high := make([]float64, len(candles))
	low := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		high[i] = c.High
		low[i] = c.Low
		closes[i] = c.Close
	}
	atr = last(talib.Atr(high, low, closes, period))
	closePrice := closes[len(closes)-1]
	if closePrice > 0 {
		atrPct = atr / closePrice
	}
	return atr, atrPct, nil
}

func bollingerPosition(close, upper, lower float64) float64 {
	width := upper - lower
	if width == 0 {
		return 0.5
	}
	pos := (close - lower) / width
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos
}

// bollingerSqueeze reports whether the current band width sits in the
// bottom quintile of its own history.
func bollingerSqueeze(upper, middle, lower []float64) bool {
	widths := make([]float64, 0, len(upper))
	for i := range upper {
		if middle[i] == 0 || math.IsNaN(upper[i]) || math.IsNaN(lower[i]) {
			continue
		}
		widths = append(widths, (upper[i]-lower[i])/middle[i])
	}
	if len(widths) < BollingerPeriod {
		return false
	}
	current := widths[len(widths)-1]
	sorted := append([]float64(nil), widths...)
	sort.Float64s(sorted)
	return stat.CDF(current, stat.Empirical, sorted, nil) < SqueezeBandwidthPercentile
}

func vwap(high, low, closes, volume []float64) float64 {
	var pv, v float64
	for i := range closes {
		typical := (high[i] + low[i] + closes[i]) / 3
		pv += typical * volume[i]
		v += volume[i]
	}
	if v == 0 {
		return closes[len(closes)-1]
	}
	return pv / v
}

func pivots(c domain.Candle) PivotLevels {
	p := (c.High + c.Low + c.Close) / 3
	return PivotLevels{
		Pivot: p,
		R1:    2*p - c.Low,
		R2:    p + (c.High - c.Low),
		S1:    2*p - c.High,
		S2:    p - (c.High - c.Low),
	}
}

// last returns the final non-NaN value of a talib output series.
func last(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) {
			return series[i]
		}
	}
	return 0
}
