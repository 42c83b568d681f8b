// Package core holds the transaction domain model, the period-key grammar
// and money rounding helpers.
//
// Money travels as floating-point amounts in the transaction's currency
// plus a normalized EUR value; exactness is recovered by rounding to the
// currency's minor unit at defined boundaries rather than by carrying
// fixed-point values end to end.
package core

import "github.com/shopspring/decimal"

// minorDigits maps ISO currency codes to their minor-unit precision.
// Anything not listed uses two digits.
var minorDigits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
}

// MinorDigits returns the number of minor-unit digits for a currency code.
func MinorDigits(currency string) int32 {
	if d, ok := minorDigits[currency]; ok {
		return d
	}
	return 2
}

// RoundMinor rounds v half-up at the currency's minor-unit precision.
// All split-instalment and aggregation arithmetic goes through this
// single boundary so repeated rounding cannot drift.
func RoundMinor(v float64, currency string) float64 {
	f, _ := decimal.NewFromFloat(v).Round(MinorDigits(currency)).Float64()
	return f
}

// RoundEUR rounds v to euro cents.
func RoundEUR(v float64) float64 {
	return RoundMinor(v, "EUR")
}
