package domain

import (
	"encoding/json"
	"fmt"
)

// SubKind tags the variant of a SubAnalysis.
type SubKind string

const (
	KindTrendRegime      SubKind = "trend_regime"
	KindVolatilityRegime SubKind = "volatility_regime"
	KindMomentumRegime   SubKind = "momentum_regime"
	KindDivergence       SubKind = "divergence"
	KindStructure        SubKind = "structure"
	KindSmartMoney       SubKind = "smc"
	KindFibonacci        SubKind = "fibonacci"
	KindPatterns         SubKind = "patterns"
)

// SubAnalysis is the interface all analyzer result variants implement.
// Consumers pattern-match on the concrete type; there is no dynamic
// dictionary access anywhere.
type SubAnalysis interface {
	// Kind returns the variant tag.
	Kind() SubKind
	// Vote returns the directional vote in [-1, 1] (+ bullish, - bearish).
	Vote() float64
	// Conf returns the analyzer's confidence in [0, 1].
	Conf() float64
}

// Insufficient marks a sub-analysis that could not be computed. It is a
// result, not an error: the pipeline treats it as a zero-weight vote.
type Insufficient struct {
	OfKind SubKind `json:"of_kind"`
	Reason string  `json:"reason"`
}

func (i *Insufficient) Kind() SubKind { return i.OfKind }
func (i *Insufficient) Vote() float64 { return 0 }
func (i *Insufficient) Conf() float64 { return 0 }

// IsInsufficient reports whether s is the insufficient-data variant.
func IsInsufficient(s SubAnalysis) bool {
	_, ok := s.(*Insufficient)
	return ok
}

// TrendRegimeType classifies the trend regime.
type TrendRegimeType string

const (
	TrendTrending      TrendRegimeType = "trending"
	TrendRanging       TrendRegimeType = "ranging"
	TrendTransitioning TrendRegimeType = "transitioning"
)

// TrendRegime is the ADX-based trend classification.
type TrendRegime struct {
	Type       TrendRegimeType `json:"type"`
	Direction  int             `json:"direction"` // +1 up, -1 down, 0 flat
	ADX        float64         `json:"adx"`
	Strength   float64         `json:"strength"` // 0..1
	Confidence float64         `json:"confidence"`
	// TransitionProb estimates the chance the next run lands in a
	// different regime bucket.
	TransitionProb float64 `json:"transition_probability"`
}

func (t *TrendRegime) Kind() SubKind { return KindTrendRegime }
func (t *TrendRegime) Conf() float64 { return t.Confidence }
func (t *TrendRegime) Vote() float64 {
	if t.Type != TrendTrending {
		return 0
	}
	return float64(t.Direction) * t.Strength
}

// VolatilityLevel buckets ATR%.
type VolatilityLevel string

const (
	VolVeryLow VolatilityLevel = "very_low"
	VolLow     VolatilityLevel = "low"
	VolMedium  VolatilityLevel = "medium"
	VolHigh    VolatilityLevel = "high"
	VolExtreme VolatilityLevel = "extreme"
)

// VolatilityRegime is the ATR-based volatility classification.
type VolatilityRegime struct {
	Level            VolatilityLevel `json:"level"`
	ATR              float64         `json:"atr"`
	ATRPct           float64         `json:"atr_pct"` // fraction, 0.008 = 0.8%
	Expanding        bool            `json:"expanding"`
	Contracting      bool            `json:"contracting"`
	SqueezePotential bool            `json:"squeeze_potential"`
	Confidence       float64         `json:"confidence"`
}

func (v *VolatilityRegime) Kind() SubKind { return KindVolatilityRegime }
func (v *VolatilityRegime) Conf() float64 { return v.Confidence }

// Vote is always zero: volatility gates trades, it never votes direction.
func (v *VolatilityRegime) Vote() float64 { return 0 }

// MomentumState classifies momentum progression.
type MomentumState string

const (
	MomentumAccelerating MomentumState = "accelerating"
	MomentumStable       MomentumState = "stable"
	MomentumDecelerating MomentumState = "decelerating"
	MomentumExhausted    MomentumState = "exhausted"
)

// MomentumRegime is the RSI/MACD-histogram momentum classification.
type MomentumRegime struct {
	State      MomentumState `json:"state"`
	Direction  int           `json:"direction"` // sign of the momentum
	Alignment  float64       `json:"alignment"` // RSI/MACD agreement, 0..1
	Confidence float64       `json:"confidence"`
}

func (m *MomentumRegime) Kind() SubKind { return KindMomentumRegime }
func (m *MomentumRegime) Conf() float64 { return m.Confidence }
func (m *MomentumRegime) Vote() float64 {
	switch m.State {
	case MomentumAccelerating:
		return float64(m.Direction) * m.Alignment
	case MomentumStable:
		return float64(m.Direction) * m.Alignment * 0.5
	case MomentumExhausted:
		// Exhaustion votes against the prevailing direction.
		return -float64(m.Direction) * m.Alignment * 0.5
	}
	return 0
}

// Divergence is a price/RSI divergence finding.
type Divergence struct {
	Bullish    bool    `json:"bullish"`
	Hidden     bool    `json:"hidden"`
	Strength   int     `json:"strength"` // 1..5
	Confidence float64 `json:"confidence"`
}

func (d *Divergence) Kind() SubKind { return KindDivergence }
func (d *Divergence) Conf() float64 { return d.Confidence }
func (d *Divergence) Vote() float64 {
	v := float64(d.Strength) / 5.0
	if !d.Bullish {
		v = -v
	}
	return v
}

// StructureState classifies the swing structure.
type StructureState string

const (
	StructureUptrend   StructureState = "UPTREND"
	StructureDowntrend StructureState = "DOWNTREND"
	StructureRanging   StructureState = "RANGING"
)

// PullbackZone is the entry zone defined by a broken swing level.
type PullbackZone struct {
	Low    float64 `json:"low"`
	High   float64 `json:"high"`
	Active bool    `json:"active"`
}

// Structure is the market-structure classification with break detection.
type Structure struct {
	Current    StructureState `json:"current"`
	Break      bool           `json:"break"`
	BreakType  string         `json:"break_type,omitempty"` // "bullish", "bearish"
	Pullback   *PullbackZone  `json:"pullback_zone,omitempty"`
	KeyLevels  []float64      `json:"key_levels,omitempty"`
	Confidence float64        `json:"confidence"`
}

func (s *Structure) Kind() SubKind { return KindStructure }
func (s *Structure) Conf() float64 { return s.Confidence }
func (s *Structure) Vote() float64 {
	v := 0.0
	switch s.Current {
	case StructureUptrend:
		v = 1
	case StructureDowntrend:
		v = -1
	}
	if s.Break {
		// A confirmed break flips the bias toward the break direction.
		switch s.BreakType {
		case "bullish":
			v = 1
		case "bearish":
			v = -1
		}
	}
	return v
}

// LiquidityPool is a price level touched repeatedly by prior extremes.
type LiquidityPool struct {
	Price   float64 `json:"price"`
	Touches int     `json:"touches"`
	Side    string  `json:"side"` // "high" or "low"
}

// StopHunt is a wick-driven excursion across a liquidity level that
// reverted within two bars.
type StopHunt struct {
	Level     float64 `json:"level"`
	Direction string  `json:"direction"` // "above" or "below"
	BarIndex  int     `json:"bar_index"`
}

// OrderBlock is a tight consolidation preceding a strong directional move.
type OrderBlock struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Bullish bool    `json:"bullish"`
	Bars    int     `json:"bars"`
}

// FairValueGap is a 3-candle non-overlapping price range.
type FairValueGap struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Bullish bool    `json:"bullish"`
	Filled  bool    `json:"filled"`
}

// EntryZone is a smart-money entry area derived from blocks and gaps.
type EntryZone struct {
	Low     float64 `json:"low"`
	High    float64 `json:"high"`
	Bullish bool    `json:"bullish"`
	Source  string  `json:"source"` // "order_block" or "fvg"
}

// SmartMoney aggregates order-flow artifacts.
type SmartMoney struct {
	LiquidityPools []LiquidityPool `json:"liquidity_pools,omitempty"`
	StopHunt       *StopHunt       `json:"stop_hunt,omitempty"`
	OrderBlocks    []OrderBlock    `json:"order_blocks,omitempty"`
	FVGs           []FairValueGap  `json:"fvgs,omitempty"`
	EntryZones     []EntryZone     `json:"entry_zones,omitempty"`
	Bias           float64         `json:"bias"` // -1..1
	Confidence     float64         `json:"confidence"`
}

func (s *SmartMoney) Kind() SubKind { return KindSmartMoney }
func (s *SmartMoney) Conf() float64 { return s.Confidence }
func (s *SmartMoney) Vote() float64 { return s.Bias }

// FibLevel is one retracement level.
type FibLevel struct {
	Ratio float64 `json:"ratio"`
	Price float64 `json:"price"`
}

// Fibonacci is the retracement analysis over the latest swing.
type Fibonacci struct {
	Levels       []FibLevel `json:"levels"`
	SwingHigh    float64    `json:"swing_high"`
	SwingLow     float64    `json:"swing_low"`
	ActiveBounce *FibLevel  `json:"active_bounce,omitempty"`
	TargetLevel  *FibLevel  `json:"target_level,omitempty"`
	Uptrend      bool       `json:"uptrend"`
	Confidence   float64    `json:"confidence"`
}

func (f *Fibonacci) Kind() SubKind { return KindFibonacci }
func (f *Fibonacci) Conf() float64 { return f.Confidence }
func (f *Fibonacci) Vote() float64 {
	if f.ActiveBounce == nil {
		return 0
	}
	if f.Uptrend {
		return 1
	}
	return -1
}

// DetectedPattern is one recognized chart pattern.
type DetectedPattern struct {
	Name       string  `json:"name"`
	Bullish    bool    `json:"bullish"`
	Confidence float64 `json:"confidence"`
	Target     float64 `json:"target,omitempty"`
}

// Patterns is the chart-pattern scan result.
type Patterns struct {
	Detected   []DetectedPattern `json:"detected"`
	Confidence float64           `json:"confidence"`
}

func (p *Patterns) Kind() SubKind { return KindPatterns }
func (p *Patterns) Conf() float64 { return p.Confidence }
func (p *Patterns) Vote() float64 {
	if len(p.Detected) == 0 {
		return 0
	}
	v := 0.0
	for _, d := range p.Detected {
		w := d.Confidence
		if !d.Bullish {
			w = -w
		}
		v += w
	}
	v /= float64(len(p.Detected))
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return v
}

// SubAnalyses is a slice of tagged variants with envelope JSON encoding
// ({"kind": ..., "insufficient": bool, "data": {...}}), so records survive
// a round-trip through the analysis store.
type SubAnalyses []SubAnalysis

type subEnvelope struct {
	Kind         SubKind         `json:"kind"`
	Insufficient bool            `json:"insufficient,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// MarshalJSON encodes each variant with its kind tag.
func (s SubAnalyses) MarshalJSON() ([]byte, error) {
	envelopes := make([]subEnvelope, 0, len(s))
	for _, sub := range s {
		data, err := json.Marshal(sub)
		if err != nil {
			return nil, err
		}
		envelopes = append(envelopes, subEnvelope{
			Kind:         sub.Kind(),
			Insufficient: IsInsufficient(sub),
			Data:         data,
		})
	}
	return json.Marshal(envelopes)
}

// UnmarshalJSON decodes the tagged envelopes back into concrete variants.
func (s *SubAnalyses) UnmarshalJSON(data []byte) error {
	var envelopes []subEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}

	result := make(SubAnalyses, 0, len(envelopes))
	for _, env := range envelopes {
		var sub SubAnalysis
		if env.Insufficient {
			sub = &Insufficient{}
		} else {
			switch env.Kind {
			case KindTrendRegime:
				sub = &TrendRegime{}
			case KindVolatilityRegime:
				sub = &VolatilityRegime{}
			case KindMomentumRegime:
				sub = &MomentumRegime{}
			case KindDivergence:
				sub = &Divergence{}
			case KindStructure:
				sub = &Structure{}
			case KindSmartMoney:
				sub = &SmartMoney{}
			case KindFibonacci:
				sub = &Fibonacci{}
			case KindPatterns:
				sub = &Patterns{}
			default:
				return fmt.Errorf("unknown sub-analysis kind %q", env.Kind)
			}
		}
		if err := json.Unmarshal(env.Data, sub); err != nil {
			return fmt.Errorf("decode sub-analysis %s: %w", env.Kind, err)
		}
		result = append(result, sub)
	}

	*s = result
	return nil
}

// Find returns the variant with the given kind, or nil.
func (s SubAnalyses) Find(kind SubKind) SubAnalysis {
	for _, sub := range s {
		if sub.Kind() == kind {
			return sub
		}
	}
	return nil
}

// Volatility returns the volatility-regime variant if present and computed.
func (s SubAnalyses) Volatility() *VolatilityRegime {
	v, _ := s.Find(KindVolatilityRegime).(*VolatilityRegime)
	return v
}

// AgreeingWith counts sub-analyses whose vote confirms the direction
// (+1 buy, -1 sell) with non-trivial conviction.
func (s SubAnalyses) AgreeingWith(direction int) int {
	n := 0
	for _, sub := range s {
		if IsInsufficient(sub) {
			continue
		}
		if v := sub.Vote(); v*float64(direction) > 0.1 {
			n++
		}
	}
	return n
}
