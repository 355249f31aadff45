package models

import (
	"fmt"
	"strings"
)

// Tier is the ticket tier. Price, draw weight and prize-pool boost are all
// looked up from one table so the tier rules live in a single place.
type Tier string

const (
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
	TierVIP     Tier = "VIP"
)

type TierSpec struct {
	Price  float64 // ticket price in SOL, also the base pool contribution
	Weight int     // draw entries per ticket
	Boost  float64 // fraction of the current pool added on purchase
}

var tierSpecs = map[Tier]TierSpec{
	TierBasic:   {Price: 0.5, Weight: 1, Boost: 0},
	TierPremium: {Price: 1.5, Weight: 3, Boost: 0.10},
	TierVIP:     {Price: 3, Weight: 5, Boost: 0.25},
}

func Tiers() []Tier {
	return []Tier{TierBasic, TierPremium, TierVIP}
}

func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToUpper(s))
	if _, ok := tierSpecs[t]; !ok {
		return "", fmt.Errorf("invalid tier %q", s)
	}
	return t, nil
}

func (t Tier) Valid() bool {
	_, ok := tierSpecs[t]
	return ok
}

func (t Tier) Price() float64 { return tierSpecs[t].Price }

func (t Tier) Weight() int { return tierSpecs[t].Weight }

func (t Tier) Boost() float64 { return tierSpecs[t].Boost }

// SetKey is the Redis set holding this tier's available numbers.
func (t Tier) SetKey() string {
	return "available_tickets:" + strings.ToLower(string(t))
}
