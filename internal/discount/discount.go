package discount

import (
	"math"

	"github.com/samber/lo"
)

const (
	MinPercent = 0.0
	MaxPercent = 95.0
)

// Input is the raw discount data stored on a customer.
type Input struct {
	DiscountPercent         float64 `json:"discount_percent"`
	FriendsAndFamilyPercent float64 `json:"friends_and_family_percent"`
	IsFriendsAndFamily      bool    `json:"is_friends_and_family"`
}

// Summary is the clamped, combined discount of a customer.
type Summary struct {
	DiscountPercent         float64 `json:"discount_percent"`
	FriendsAndFamilyPercent float64 `json:"friends_and_family_percent"`
	IsFriendsAndFamily      bool    `json:"is_friends_and_family"`
	TotalPercent            float64 `json:"total_percent"`
}

// Summarize clamps both percentages to [0, 95] and combines them. The friends
// and family rate is kept even when the flag is off, but only counts when on.
func Summarize(in Input) Summary {
	base := ClampPercent(in.DiscountPercent)
	ff := ClampPercent(in.FriendsAndFamilyPercent)

	total := base
	if in.IsFriendsAndFamily {
		total += ff
	}

	return Summary{
		DiscountPercent:         base,
		FriendsAndFamilyPercent: ff,
		IsFriendsAndFamily:      in.IsFriendsAndFamily,
		TotalPercent:            ClampPercent(total),
	}
}

// Multiplier converts the summary into a price factor in [0.05, 1].
func Multiplier(s Summary) float64 {
	return math.Max(0, 1-ClampPercent(s.TotalPercent)/100)
}

// ClampPercent rounds p to two decimals and clamps it to [0, 95]. NaN is 0.
func ClampPercent(p float64) float64 {
	if math.IsNaN(p) {
		return 0
	}
	return lo.Clamp(math.Round(p*100)/100, MinPercent, MaxPercent)
}
