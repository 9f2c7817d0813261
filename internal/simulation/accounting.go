package simulation

import (
	"github.com/shopspring/decimal"

	"github.com/aristath/goldpulse/internal/domain"
)

// All money arithmetic here is decimal. TL amounts settle at 2 decimals,
// gram quantities at 3, banker's rounding throughout.

var two = decimal.NewFromInt(2)

// entryPrice applies half the spread against the trader: a LONG buys at
// the ask (mid + spread/2), a SHORT sells at the bid.
func entryPrice(mid decimal.Decimal, costs domain.SimulationCosts, posType domain.PositionType) decimal.Decimal {
	half := costs.SpreadTL.Div(two)
	if posType == domain.PositionLong {
		return domain.RoundTL(mid.Add(half))
	}
	return domain.RoundTL(mid.Sub(half))
}

// exitPrice applies the other half of the spread on the way out: a LONG
// sells at the bid, a SHORT buys back at the ask.
func exitPrice(mid decimal.Decimal, costs domain.SimulationCosts, posType domain.PositionType) decimal.Decimal {
	half := costs.SpreadTL.Div(two)
	if posType == domain.PositionLong {
		return domain.RoundTL(mid.Sub(half))
	}
	return domain.RoundTL(mid.Add(half))
}

// commission is the one-side commission on a notional (price × size).
func commission(price, sizeGrams decimal.Decimal, costs domain.SimulationCosts) decimal.Decimal {
	return domain.RoundTL(price.Mul(sizeGrams).Mul(costs.CommissionPct))
}

// positionSize computes the gram size from the risk budget. Capital is
// held in grams; its TL value at the current price funds the risk
// budget. The signal's sizing fraction and the per-position cap both
// bound the result.
//
//	risk_budget_tl = tf_capital × gram_price × max_risk_pct
//	size_grams     = min(risk_budget_tl / stop_distance,
//	                     fraction × tf_capital, cap_pct × tf_capital)
func positionSize(tfCapitalGrams, gramPrice, stopDistance decimal.Decimal, maxRiskPct, fraction, capPct float64) decimal.Decimal {
	if !stopDistance.IsPositive() || fraction <= 0 {
		return decimal.Zero
	}

	riskBudgetTL := tfCapitalGrams.Mul(gramPrice).Mul(decimal.NewFromFloat(maxRiskPct))
	size := riskBudgetTL.Div(stopDistance)

	if fracGrams := tfCapitalGrams.Mul(decimal.NewFromFloat(fraction)); size.GreaterThan(fracGrams) {
		size = fracGrams
	}
	if capGrams := tfCapitalGrams.Mul(decimal.NewFromFloat(capPct)); size.GreaterThan(capGrams) {
		size = capGrams
	}
	return domain.RoundGrams(size)
}

// settle computes the close-side economics of a position at the given
// exit price and marks the result on the position. Returns the grams to
// credit back to the timeframe's capital (size + net PnL in grams).
func settle(pos *domain.Position, exit, currentGramPrice decimal.Decimal, costs domain.SimulationCosts) decimal.Decimal {
	dir := decimal.NewFromInt(int64(pos.Type.Direction()))

	gross := exit.Sub(pos.EntryPrice).Mul(pos.SizeGrams).Mul(dir)
	entryComm := commission(pos.EntryPrice, pos.SizeGrams, costs)
	exitComm := commission(exit, pos.SizeGrams, costs)
	totalCosts := entryComm.Add(exitComm)
	netTL := gross.Sub(totalCosts)

	pos.ExitPrice = exit
	pos.GrossPnLTL = domain.RoundTL(gross)
	pos.CostsTL = domain.RoundTL(totalCosts)
	pos.NetPnLTL = domain.RoundTL(netTL)
	if currentGramPrice.IsPositive() {
		pos.GrossPnLGrams = domain.RoundGrams(gross.Div(currentGramPrice))
		pos.NetPnLGrams = domain.RoundGrams(netTL.Div(currentGramPrice))
	} else {
		pos.GrossPnLGrams = decimal.Zero
		pos.NetPnLGrams = decimal.Zero
	}

	return domain.RoundGrams(pos.SizeGrams.Add(pos.NetPnLGrams))
}

// unrealizedTL marks an open position to the given mid price, spread and
// commission excluded.
func unrealizedTL(pos *domain.Position, mid decimal.Decimal) decimal.Decimal {
	dir := decimal.NewFromInt(int64(pos.Type.Direction()))
	return mid.Sub(pos.EntryPrice).Mul(pos.SizeGrams).Mul(dir)
}
