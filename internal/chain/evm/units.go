package evm

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// ToUnits 人类可读数量 -> 最小单位（向下取整）
func ToUnits(amount float64, decimals uint8) *big.Int {
	return decimal.NewFromFloat(amount).Shift(int32(decimals)).Floor().BigInt()
}

// FromUnits 最小单位 -> 人类可读数量
func FromUnits(units *big.Int, decimals uint8) float64 {
	if units == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(units, -int32(decimals)).Float64()
	return f
}

// ApplySlippage amount * (1 - slippagePct/100)，向下取整
func ApplySlippage(amount *big.Int, slippagePct float64) *big.Int {
	if amount == nil {
		return big.NewInt(0)
	}
	factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippagePct).Div(decimal.NewFromInt(100)))
	if factor.IsNegative() {
		return big.NewInt(0)
	}
	return decimal.NewFromBigInt(amount, 0).Mul(factor).Floor().BigInt()
}
