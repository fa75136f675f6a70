package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists currencies whose smallest unit is the major unit.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true,
	"kmf": true, "krw": true, "mga": true, "pyg": true, "rwf": true,
	"ugx": true, "vnd": true, "vuv": true, "xaf": true, "xof": true,
	"xpf": true,
}

// threeDecimal lists currencies whose major unit is 1000 smallest units.
var threeDecimal = map[string]bool{
	"bhd": true, "jod": true, "kwd": true, "omr": true, "tnd": true,
}

// MajorUnits converts an amount in the smallest currency unit into major
// units, e.g. 1999 usd becomes 19.99.
func MajorUnits(amount int64, currency string) decimal.Decimal {
	currency = strings.ToLower(currency)
	switch {
	case zeroDecimal[currency]:
		return decimal.NewFromInt(amount)
	case threeDecimal[currency]:
		return decimal.New(amount, -3)
	}
	return decimal.New(amount, -2)
}
