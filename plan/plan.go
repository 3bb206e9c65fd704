// Package plan is the catalog of purchasable subscription tiers.
package plan

import (
	"time"

	"go-vpnshop/apperr"
)

type Type string

const (
	Trial   Type = "trial"
	Day     Type = "day"
	Week    Type = "week"
	Month   Type = "month"
	Quarter Type = "quarter"
	Year    Type = "year"
)

var durations = map[Type]time.Duration{
	Trial:   72 * time.Hour,
	Day:     24 * time.Hour,
	Week:    7 * 24 * time.Hour,
	Month:   30 * 24 * time.Hour,
	Quarter: 90 * 24 * time.Hour,
	Year:    365 * 24 * time.Hour,
}

// Prices in minor units (kopecks). Trial is free.
var defaultPrices = map[Type]int64{
	Trial:   0,
	Day:     900,
	Week:    4900,
	Month:   14900,
	Quarter: 39900,
	Year:    149900,
}

var names = map[Type]string{
	Trial:   "Trial (3 days)",
	Day:     "1 day",
	Week:    "1 week",
	Month:   "1 month",
	Quarter: "3 months",
	Year:    "1 year",
}

// Parse validates a plan identifier coming from user input.
func Parse(s string) (Type, error) {
	p := Type(s)
	if _, ok := durations[p]; !ok {
		return "", apperr.Newf(apperr.KindValidation, "unknown plan type %q", s)
	}
	return p, nil
}

func (p Type) Duration() time.Duration { return durations[p] }

func (p Type) Name() string {
	if n, ok := names[p]; ok {
		return n
	}
	return string(p)
}

// Catalog resolves plan prices, allowing per-deployment overrides.
type Catalog struct {
	prices map[Type]int64
}

// NewCatalog builds a catalog from overrides; zero entries fall back to the
// defaults. Trial stays free regardless of overrides.
func NewCatalog(overrides map[Type]int64) *Catalog {
	prices := make(map[Type]int64, len(defaultPrices))
	for p, v := range defaultPrices {
		prices[p] = v
	}
	for p, v := range overrides {
		if _, ok := prices[p]; ok && v > 0 && p != Trial {
			prices[p] = v
		}
	}
	return &Catalog{prices: prices}
}

// Price returns the price of p in minor units.
func (c *Catalog) Price(p Type) (int64, error) {
	v, ok := c.prices[p]
	if !ok {
		return 0, apperr.Newf(apperr.KindValidation, "unknown plan type %q", p)
	}
	return v, nil
}

// All lists every known plan type in ascending duration order.
func All() []Type {
	return []Type{Trial, Day, Week, Month, Quarter, Year}
}
