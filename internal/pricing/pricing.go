package pricing

import (
	"context"
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// RateScale is the fixed-point scale of the on-chain order rate.
const RateScale = 2

var ErrInvalidRate = errors.New("aggregator returned a non-positive rate")

type RateSource interface {
	Rate(ctx context.Context, token string, amount decimal.Decimal, currency string) (decimal.Decimal, error)
}

type Service struct {
	Rates RateSource
}

type Quote struct {
	Rate           decimal.Decimal `json:"rate"`
	AmountReceived decimal.Decimal `json:"amount_received"`
	Source         string          `json:"source"`
}

// ScaledRate is the rate as the gateway contract expects it.
func (q Quote) ScaledRate() *big.Int {
	return q.Rate.Shift(RateScale).Round(0).BigInt()
}

func (s Service) CurrentQuote(ctx context.Context, token string, amount decimal.Decimal, currency string) (Quote, error) {
	rate, err := s.Rates.Rate(ctx, token, amount, currency)
	if err != nil {
		return Quote{}, err
	}
	if !rate.IsPositive() {
		return Quote{}, ErrInvalidRate
	}
	return Quote{
		Rate:           rate,
		AmountReceived: amount.Mul(rate).Round(2),
		Source:         "aggregator",
	}, nil
}
