package strategy

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/goldpulse/internal/database"
	"github.com/aristath/goldpulse/internal/domain"
)

// AnalysisRepository persists analysis records. The scalar decision
// columns are queryable; the full record (sub-analyses included) rides
// in payload_json.
type AnalysisRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAnalysisRepository creates a new analysis repository.
func NewAnalysisRepository(db *sql.DB, log zerolog.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:  db,
		log: log.With().Str("repo", "analysis").Logger(),
	}
}

// Insert stores one record. The (timeframe, ts) key is append-only:
// re-running the same instant is ignored, never rewritten.
func (r *AnalysisRepository) Insert(record *domain.AnalysisRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode analysis record: %w", err)
	}

	query := `
		INSERT OR IGNORE INTO analysis_records
			(ts, timeframe, gram_price, signal, confidence, signal_strength,
			 position_size, stop_loss, take_profit, risk_reward,
			 global_trend, currency_risk, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err = database.WithRetry(func() error {
		_, err := r.db.Exec(query,
			record.Timestamp.UTC().Unix(),
			string(record.Timeframe),
			fmtAnalysisPrice(record.GramPrice),
			string(record.Signal),
			record.Confidence,
			string(record.SignalStrength),
			record.PositionSize,
			fmtAnalysisPrice(record.StopLoss),
			fmtAnalysisPrice(record.TakeProfit),
			record.RiskReward,
			record.GlobalTrend.Direction,
			string(record.CurrencyRisk.Level),
			string(payload),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert analysis record: %w", err)
	}
	return nil
}

// FetchLatest returns the most recent record for a timeframe, or nil.
func (r *AnalysisRepository) FetchLatest(tf domain.Timeframe) (*domain.AnalysisRecord, error) {
	query := `
		SELECT payload_json FROM analysis_records
		WHERE timeframe = ?
		ORDER BY ts DESC
		LIMIT 1
	`
	var payload string
	err := r.db.QueryRow(query, string(tf)).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest analysis: %w", err)
	}
	return decodeAnalysis(payload)
}

// FetchRange returns records for a timeframe in [since, until], newest
// first, capped at limit. Records whose payload no longer decodes are
// skipped with a warning.
func (r *AnalysisRepository) FetchRange(tf domain.Timeframe, since, until time.Time, limit int) ([]*domain.AnalysisRecord, error) {
	query := `
		SELECT payload_json FROM analysis_records
		WHERE timeframe = ? AND ts >= ? AND ts <= ?
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, string(tf), since.UTC().Unix(), until.UTC().Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch analysis range: %w", err)
	}
	defer rows.Close()

	var records []*domain.AnalysisRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable analysis row")
			continue
		}
		record, err := decodeAnalysis(payload)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping undecodable analysis payload")
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func decodeAnalysis(payload string) (*domain.AnalysisRecord, error) {
	var record domain.AnalysisRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return nil, fmt.Errorf("failed to decode analysis payload: %w", err)
	}
	return &record, nil
}

func fmtAnalysisPrice(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

// SignalRepository persists the actionable-signal projection.
type SignalRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewSignalRepository creates a new signal repository.
func NewSignalRepository(db *sql.DB, log zerolog.Logger) *SignalRepository {
	return &SignalRepository{
		db:  db,
		log: log.With().Str("repo", "signal").Logger(),
	}
}

// Insert stores one signal record, idempotent by (timeframe, ts).
func (r *SignalRepository) Insert(sig *domain.SignalRecord) error {
	query := `
		INSERT OR IGNORE INTO signal_records
			(ts, timeframe, signal, confidence, signal_strength,
			 gram_price, stop_loss, take_profit, risk_reward, position_size)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	err := database.WithRetry(func() error {
		_, err := r.db.Exec(query,
			sig.Timestamp.UTC().Unix(),
			string(sig.Timeframe),
			string(sig.Signal),
			sig.Confidence,
			string(sig.Strength),
			fmtAnalysisPrice(sig.GramPrice),
			fmtAnalysisPrice(sig.StopLoss),
			fmtAnalysisPrice(sig.TakeProfit),
			sig.RiskReward,
			sig.PositionSize,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert signal record: %w", err)
	}
	return nil
}

// FetchRecent returns the newest signals across all timeframes.
func (r *SignalRepository) FetchRecent(limit int) ([]domain.SignalRecord, error) {
	query := `
		SELECT ts, timeframe, signal, confidence, signal_strength,
		       gram_price, stop_loss, take_profit, risk_reward, position_size
		FROM signal_records
		ORDER BY ts DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch signals: %w", err)
	}
	defer rows.Close()

	var signals []domain.SignalRecord
	for rows.Next() {
		var sig domain.SignalRecord
		var ts int64
		var tf, signal, strength, gram, sl, tp string
		if err := rows.Scan(&ts, &tf, &signal, &sig.Confidence, &strength,
			&gram, &sl, &tp, &sig.RiskReward, &sig.PositionSize); err != nil {
			r.log.Warn().Err(err).Msg("Skipping unreadable signal row")
			continue
		}
		sig.Timestamp = time.Unix(ts, 0).UTC()
		sig.Timeframe = domain.Timeframe(tf)
		sig.Signal = domain.Signal(signal)
		sig.Strength = domain.SignalStrength(strength)
		sig.GramPrice = parseAnalysisPrice(gram)
		sig.StopLoss = parseAnalysisPrice(sl)
		sig.TakeProfit = parseAnalysisPrice(tp)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

func parseAnalysisPrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
