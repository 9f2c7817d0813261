package events

import (
	"time"

	"github.com/aristath/goldpulse/internal/domain"
)

// EventData is the interface all event payload types implement. The
// field names below are stable identifiers consumed by the dashboard.
type EventData interface {
	// Topic returns the topic this payload is published on.
	Topic() Topic
}

// PriceUpdateData is the compact price tick projection.
type PriceUpdateData struct {
	T time.Time `json:"t"`
	G float64   `json:"g"` // gram gold, TRY
	O float64   `json:"o"` // ounce, USD
	U float64   `json:"u"` // USD/TRY
}

func (d *PriceUpdateData) Topic() Topic { return TopicPriceUpdate }

// NewPriceUpdateData projects a quote into its event payload.
func NewPriceUpdateData(q domain.PriceQuote) *PriceUpdateData {
	return &PriceUpdateData{T: q.Timestamp, G: q.GramGold, O: q.OunceUSD, U: q.USDTRY}
}

// BarCloseData announces a sealed candle.
type BarCloseData struct {
	Interval domain.Timeframe `json:"interval"`
	Candle   domain.Candle    `json:"candle"`
}

func (d *BarCloseData) Topic() Topic { return TopicBarClose }

// AnalysisReadyData carries a completed analysis record.
type AnalysisReadyData struct {
	Record *domain.AnalysisRecord `json:"record"`
}

func (d *AnalysisReadyData) Topic() Topic { return TopicAnalysisReady }

// SignalData carries an actionable signal projection.
type SignalData struct {
	Record *domain.SignalRecord `json:"record"`
}

func (d *SignalData) Topic() Topic { return TopicSignal }

// PositionOpenedData announces a newly opened simulated position.
type PositionOpenedData struct {
	SimName  string           `json:"sim_name"`
	Position *domain.Position `json:"position"`
}

func (d *PositionOpenedData) Topic() Topic { return TopicPositionOpened }

// PositionClosedData announces a closed simulated position.
type PositionClosedData struct {
	SimName  string           `json:"sim_name"`
	Position *domain.Position `json:"position"`
}

func (d *PositionClosedData) Topic() Topic { return TopicPositionClosed }

// DailyRollData carries a daily performance roll-up.
type DailyRollData struct {
	Performance *domain.DailyPerformance `json:"performance"`
}

func (d *DailyRollData) Topic() Topic { return TopicDailyRoll }

// SystemHealthData exposes the engine's health counters to subscribers.
type SystemHealthData struct {
	TicksRejected        uint64  `json:"ticks_rejected"`
	EventsDropped        uint64  `json:"events_dropped"`
	StoreRetries         uint64  `json:"store_retries"`
	InsufficientData     uint64  `json:"insufficient_data_total"`
	AnalysesTotal        uint64  `json:"analyses_total"`
	PositionsOpened      uint64  `json:"positions_opened"`
	PositionsClosed      uint64  `json:"positions_closed"`
	InsufficientDataRate float64 `json:"insufficient_data_rate"`
	CPUPercent           float64 `json:"cpu_percent"`
	MemoryPercent        float64 `json:"memory_percent"`
}

func (d *SystemHealthData) Topic() Topic { return TopicSystemHealth }
