// Package rollup folds a downline subtree into aggregate financial
// statistics. Aggregation always runs over raw, unredacted nodes: the
// figures are computed for the query root's own benefit, and the display
// redaction policies never change what is counted.
package rollup

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/nupips/team-engine/internal/forest"
	"github.com/nupips/team-engine/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Aggregator computes downline rollups using the forest builder's BFS
// machinery.
type Aggregator struct {
	builder *forest.Builder
}

// NewAggregator creates an aggregator over the given builder.
func NewAggregator(b *forest.Builder) *Aggregator {
	return &Aggregator{builder: b}
}

// Aggregate computes rollup statistics for rootID's downline (level >= 1;
// the root itself is excluded). All sums use decimal arithmetic so money
// never drifts. If any batch fetch permanently fails the whole aggregation
// fails: a silently low total is worse than a failed request.
func (a *Aggregator) Aggregate(ctx context.Context, rootID string, maxDepth int) (*model.AggregateStats, error) {
	stats := &model.AggregateStats{
		GTCRegistrationRatePct: decimal.Zero,
		TotalRebateIncome:      decimal.Zero,
		TotalAffiliateIncome:   decimal.Zero,
		TotalWalletBalance:     decimal.Zero,
		TotalDeposits:          decimal.Zero,
		TotalWithdrawals:       decimal.Zero,
		NetDeposits:            decimal.Zero,
	}

	truncated, err := a.builder.WalkDescendants(ctx, rootID, maxDepth, func(u model.UserNode, level int) {
		stats.TotalDownlineCount++
		if u.Status == model.StatusActive {
			stats.ActiveDownlineCount++
		}
		if u.GTCLinked {
			stats.GTCTotalDownlineWithLink++
		}

		if level == 1 {
			stats.DirectCount++
			if u.GTCLinked {
				stats.GTCDirectWithLink++
			} else {
				stats.GTCDirectWithoutLink++
			}
		}

		stats.TotalRebateIncome = stats.TotalRebateIncome.Add(u.Financials.TotalRebateIncome)
		stats.TotalAffiliateIncome = stats.TotalAffiliateIncome.Add(u.Financials.TotalAffiliateIncome)
		stats.TotalWalletBalance = stats.TotalWalletBalance.Add(u.WalletBalance)
		stats.TotalDeposits = stats.TotalDeposits.Add(u.Financials.TotalDeposits)
		stats.TotalWithdrawals = stats.TotalWithdrawals.Add(u.Financials.TotalWithdrawals)
	})
	if err != nil {
		return nil, err
	}

	stats.NetDeposits = stats.TotalDeposits.Sub(stats.TotalWithdrawals)
	if stats.DirectCount > 0 {
		rate := decimal.NewFromInt(int64(stats.GTCDirectWithLink)).
			Div(decimal.NewFromInt(int64(stats.DirectCount))).
			Mul(hundred).Round(2)
		stats.GTCRegistrationRatePct = rate
	}
	stats.Truncated = truncated

	return stats, nil
}
