package strategy

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(database.SchemaFor(database.ProfileHistory))
	require.NoError(t, err)
	return db
}

func sampleRecord(ts time.Time) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		Timestamp:      ts,
		Timeframe:      domain.TF1h,
		GramPrice:      3470.5,
		Signal:         domain.SignalBuy,
		Confidence:     0.62,
		SignalStrength: domain.StrengthModerate,
		PositionSize:   0.12,
		StopLoss:       3440.0,
		TakeProfit:     3515.0,
		RiskReward:     1.5,
		GlobalTrend:    domain.GlobalTrend{Direction: "up", Strength: 0.7},
		CurrencyRisk:   domain.CurrencyRisk{Level: domain.CurrencyRiskLow, Multiplier: 1.3},
		SubAnalyses: domain.SubAnalyses{
			&domain.Divergence{Bullish: true, Strength: 4, Confidence: 0.9},
			&domain.VolatilityRegime{Level: domain.VolMedium, ATRPct: 0.008, Confidence: 0.7},
			&domain.Insufficient{OfKind: domain.KindFibonacci, Reason: "no swing pair in window"},
		},
		Summary: "1h: MODERATE BUY, confidence 0.62 (gram score +0.55), R/R 1.5",
		ATR:     15,
		RSI:     58,
	}
}

func TestAnalysisRecordRoundTrip(t *testing.T) {
	repo := NewAnalysisRepository(setupHistoryDB(t), quietLog())
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(sampleRecord(ts)))

	got, err := repo.FetchLatest(domain.TF1h)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, domain.SignalBuy, got.Signal)
	assert.InDelta(t, 0.62, got.Confidence, 1e-9)
	assert.InDelta(t, 3470.5, got.GramPrice, 1e-9)
	assert.Equal(t, "up", got.GlobalTrend.Direction)
	assert.InDelta(t, 58.0, got.RSI, 1e-9)

	// The tagged sub-analysis envelopes survive the round trip.
	require.Len(t, got.SubAnalyses, 3)
	div, ok := got.SubAnalyses[0].(*domain.Divergence)
	require.True(t, ok)
	assert.Equal(t, 4, div.Strength)
	vol := got.SubAnalyses.Volatility()
	require.NotNil(t, vol)
	assert.Equal(t, domain.VolMedium, vol.Level)
	assert.True(t, domain.IsInsufficient(got.SubAnalyses[2]))
	assert.Equal(t, domain.KindFibonacci, got.SubAnalyses[2].Kind())
}

func TestAnalysisInsertIsAppendOnly(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewAnalysisRepository(db, quietLog())
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	first := sampleRecord(ts)
	require.NoError(t, repo.Insert(first))

	// A rerun at the same instant must not rewrite the stored decision.
	second := sampleRecord(ts)
	second.Signal = domain.SignalSell
	require.NoError(t, repo.Insert(second))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM analysis_records`).Scan(&n))
	assert.Equal(t, 1, n)

	got, err := repo.FetchLatest(domain.TF1h)
	require.NoError(t, err)
	assert.Equal(t, domain.SignalBuy, got.Signal)
}

func TestAnalysisFetchRange(t *testing.T) {
	repo := NewAnalysisRepository(setupHistoryDB(t), quietLog())
	base := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		record := sampleRecord(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, repo.Insert(record))
	}

	records, err := repo.FetchRange(domain.TF1h, base, base.Add(4*time.Hour), 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.True(t, records[0].Timestamp.After(records[1].Timestamp), "newest first")

	none, err := repo.FetchRange(domain.TF4h, base, base.Add(4*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSignalRecordRoundTrip(t *testing.T) {
	db := setupHistoryDB(t)
	repo := NewSignalRepository(db, quietLog())
	ts := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	sig := sampleRecord(ts).ToSignalRecord()
	require.NotNil(t, sig)
	require.NoError(t, repo.Insert(sig))
	require.NoError(t, repo.Insert(sig), "replay is idempotent")

	got, err := repo.FetchRecent(10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, ts, got[0].Timestamp)
	assert.Equal(t, domain.SignalBuy, got[0].Signal)
	assert.Equal(t, domain.StrengthModerate, got[0].Strength)
	assert.InDelta(t, 3470.5, got[0].GramPrice, 1e-9)
	assert.InDelta(t, 3440.0, got[0].StopLoss, 1e-9)
	assert.InDelta(t, 3515.0, got[0].TakeProfit, 1e-9)
	assert.InDelta(t, 0.12, got[0].PositionSize, 1e-9)
}
