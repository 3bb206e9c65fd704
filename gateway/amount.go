package gateway

import (
	"github.com/shopspring/decimal"

	"go-vpnshop/apperr"
)

var hundred = decimal.NewFromInt(100)

// FormatAmount renders minor units as the gateway's decimal string,
// e.g. 149900 -> "1499.00".
func FormatAmount(minor int64) string {
	return decimal.NewFromInt(minor).Div(hundred).StringFixed(2)
}

// ParseAmount converts a gateway decimal string into minor units,
// e.g. "1499.00" -> 149900.
func ParseAmount(value string) (int64, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindValidation, "malformed amount "+value, err)
	}
	minor := d.Mul(hundred)
	if !minor.IsInteger() {
		return 0, apperr.Newf(apperr.KindValidation, "amount %s has sub-kopeck precision", value)
	}
	return minor.IntPart(), nil
}
