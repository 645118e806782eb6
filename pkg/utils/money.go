package utils

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FormatYuan renders an amount in fen as a yuan string with two decimals, e.g. 7500 -> "75.00".
func FormatYuan(fen int64) string {
	return decimal.NewFromInt(fen).Div(hundred).StringFixed(2)
}

// ParseYuan converts a gateway yuan string ("75.00") into fen. Fractions below one fen are
// rejected rather than rounded.
func ParseYuan(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	fen := d.Mul(hundred)
	if !fen.Equal(fen.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	return fen.IntPart(), nil
}

// PointsToFen converts points into the fen they are worth at pointsPerYuan, rounding down.
func PointsToFen(points, pointsPerYuan int64) int64 {
	if points <= 0 || pointsPerYuan <= 0 {
		return 0
	}
	return decimal.NewFromInt(points).Mul(hundred).Div(decimal.NewFromInt(pointsPerYuan)).Floor().IntPart()
}

// FenToPoints is the inverse of PointsToFen, rounding up so the points always cover fen.
func FenToPoints(fen, pointsPerYuan int64) int64 {
	if fen <= 0 || pointsPerYuan <= 0 {
		return 0
	}
	return decimal.NewFromInt(fen).Mul(decimal.NewFromInt(pointsPerYuan)).Div(hundred).Ceil().IntPart()
}

// PercentOf returns floor(amount * pct / 100) in fen; pct may carry decimals (e.g. "12.5").
func PercentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Floor().IntPart()
}
