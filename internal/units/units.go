// Package units converts between on-chain fixed-point integers and decimal amounts.
package units

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the fixed-point scale of the chain's native unit (wei per ether).
const Decimals = 18

var (
	// ErrInvalidAmount is returned for negative amounts or amounts finer than one base unit.
	ErrInvalidAmount = errors.New("invalid amount")

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// ToDecimal scales a base-unit integer down to a human decimal. A nil amount is zero.
func ToDecimal(baseUnits *big.Int) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -Decimals)
}

// ToBaseUnits scales a decimal up to base units. It fails with ErrInvalidAmount when the
// amount is negative, carries more than Decimals fractional digits, or overflows uint256.
func ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	}

	scaled := amount.Shift(Decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s has more than %d fractional digits", ErrInvalidAmount, amount, Decimals)
	}

	base := scaled.Truncate(0).BigInt()
	if base.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %s overflows uint256", ErrInvalidAmount, amount)
	}
	return base, nil
}
