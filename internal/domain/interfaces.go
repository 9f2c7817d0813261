package domain

import "time"

// QuoteSource is the vendor adapter boundary. Any upstream price vendor
// implements it; the engine only sees the quotes it pushes.
type QuoteSource interface {
	// OnQuote registers the callback invoked for every new quote.
	OnQuote(fn func(PriceQuote))
}

// CandleReader is the read-only candle access analyzers and strategies
// depend on. The store implements it; analyzers never see a writer.
type CandleReader interface {
	// FetchCandles returns up to count candles for the interval, newest
	// last. A zero end time means "up to now".
	FetchCandles(interval Timeframe, count int, end time.Time) ([]Candle, error)
}

// AnalysisReader is the read-only analysis access the simulation engine
// depends on.
type AnalysisReader interface {
	FetchLatestAnalysis(tf Timeframe) (*AnalysisRecord, error)
}
