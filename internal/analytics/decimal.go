package analytics

import (
	"math"

	"github.com/shopspring/decimal"
)

var decimalZero = decimal.NewFromInt(0)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// round2 rounds half away from zero to cents; NaN and Inf collapse to 0.
func round2(val float64) float64 {
	return decToFloat(decFromFloat(val).Round(2))
}

func finite(val float64) float64 {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return 0
	}
	return val
}
