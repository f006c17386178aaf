package payments

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNonPositiveAmount = errors.New("amount must be positive")
	ErrInvalidDecimals   = errors.New("invalid decimals")
	ErrFractionalUnits   = errors.New("amount has more precision than token decimals")
)

// ToBaseUnits converts a human token amount to the token's smallest unit.
// Amounts more precise than decimals are rejected rather than rounded so the
// approved and ordered amounts always match what the user confirmed.
func ToBaseUnits(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	if decimals < 0 || decimals > 36 {
		return nil, ErrInvalidDecimals
	}
	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrFractionalUnits
	}
	return scaled.BigInt(), nil
}

func FromBaseUnits(units *big.Int, decimals int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}

func CompareAmount(a, b *big.Int) int {
	if a == nil || b == nil {
		return 0
	}
	return a.Cmp(b)
}
