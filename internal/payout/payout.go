// Package payout computes the house fee and the winners' shares of a
// settled pool.
//
// Amounts are integer base units. Products are computed with
// shopspring/decimal so pool * fee_bps cannot overflow uint64, and every
// division truncates toward zero. Nothing here touches storage; callers
// pass pools in and move the resulting amounts through the escrow ledger.
package payout

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/atmx/wager-engine/internal/model"
)

// ErrNoWinners is returned when a pool is distributed to nobody.
var ErrNoWinners = errors.New("payout: at least one winner is required")

var bpsDenominator = decimal.NewFromInt(model.MaxFeeBps)

// Splitter divides a pool between the house and the winners.
// It is stateless; the fee rate is fixed at construction.
type Splitter struct {
	feeBps uint16
}

// NewSplitter creates a splitter charging feeBps basis points.
func NewSplitter(feeBps uint16) (*Splitter, error) {
	if feeBps > model.MaxFeeBps {
		return nil, model.ErrInvalidFeePercent.With("%d bps exceeds %d", feeBps, model.MaxFeeBps)
	}
	return &Splitter{feeBps: feeBps}, nil
}

// FeeBps returns the configured rate in basis points.
func (s *Splitter) FeeBps() uint16 {
	return s.feeBps
}

// Rate returns the fee as a fraction of the pool (500 bps → 0.05).
func (s *Splitter) Rate() decimal.Decimal {
	return decimal.NewFromInt(int64(s.feeBps)).Div(bpsDenominator)
}

// Fee computes floor(pool * fee_bps / 10000). The result never exceeds pool.
func (s *Splitter) Fee(pool uint64) uint64 {
	product := fromUint64(pool).Mul(decimal.NewFromInt(int64(s.feeBps)))
	q, _ := product.QuoRem(bpsDenominator, 0)
	return toUint64(q)
}

// Distribute splits pool between the house and winners winning seats.
// The remainder after the fee is shared evenly; the integer-division
// remainder goes to the first winner. fee + sum(shares) == pool always.
func (s *Splitter) Distribute(pool uint64, winners int) (fee uint64, shares []uint64, err error) {
	if winners <= 0 {
		return 0, nil, ErrNoWinners
	}
	fee = s.Fee(pool)
	net := fromUint64(pool - fee)

	each, rem := net.QuoRem(decimal.NewFromInt(int64(winners)), 0)
	shares = make([]uint64, winners)
	for i := range shares {
		shares[i] = toUint64(each)
	}
	shares[0] += toUint64(rem)
	return fee, shares, nil
}

// ParseFeePercent converts a human fee percentage ("5", "2.5") to basis
// points. More than two decimal places cannot be represented and is
// rejected.
func ParseFeePercent(s string) (uint16, error) {
	pct, err := decimal.NewFromString(s)
	if err != nil {
		return 0, model.ErrInvalidFeePercent.With("%q is not a number", s)
	}
	bps := pct.Mul(decimal.NewFromInt(100))
	if !bps.Equal(bps.Truncate(0)) {
		return 0, model.ErrInvalidFeePercent.With("%s%% is finer than one basis point", s)
	}
	if bps.IsNegative() || bps.GreaterThan(bpsDenominator) {
		return 0, model.ErrInvalidFeePercent.With("%s%% is outside 0..100", s)
	}
	return uint16(bps.IntPart()), nil
}

// FormatBps renders basis points as a percentage string with two decimals.
func FormatBps(bps uint16) string {
	return fmt.Sprintf("%s%%", decimal.New(int64(bps), -2).StringFixed(2))
}

func fromUint64(v uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), 0)
}

func toUint64(d decimal.Decimal) uint64 {
	return d.BigInt().Uint64()
}
