package rewards

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// Weight is one contributor's normalized attribution share
type Weight struct {
	ContributorID string
	NormWeight    float64
}

// Allocation is the discretized point amount owed to one contributor
type Allocation struct {
	ContributorID string
	Points        decimal.Decimal
}

// Policy controls how normalized weights turn into points
type Policy struct {
	Pool         decimal.Decimal
	RoundingUnit decimal.Decimal
	MinPayable   decimal.Decimal
	Cap          *decimal.Decimal
}

const (
	DefaultPool         = 100
	DefaultRoundingUnit = "0.1"
	DefaultMinPayable   = "0.5"
	DefaultFinalizeCap  = 60
	PreviewLimit        = 5
)

// DefaultPolicy is the uncapped 100-point policy with 0.1 rounding and a 0.5 floor
func DefaultPolicy() Policy {
	return Policy{
		Pool:         decimal.NewFromInt(DefaultPool),
		RoundingUnit: decimal.RequireFromString(DefaultRoundingUnit),
		MinPayable:   decimal.RequireFromString(DefaultMinPayable),
	}
}

// PreviewPolicy is used for the non-binding preview shown after attribution
func PreviewPolicy() Policy {
	return DefaultPolicy()
}

// FinalizePolicy is the binding policy applied when a draft is finalized
func FinalizePolicy() Policy {
	return DefaultPolicy().WithCap(decimal.NewFromInt(DefaultFinalizeCap))
}

// WithCap returns a copy of p that clamps every allocation to limit
func (p Policy) WithCap(limit decimal.Decimal) Policy {
	p.Cap = &limit
	return p
}

// WithoutCap returns a copy of p with no per-contributor limit
func (p Policy) WithoutCap() Policy {
	p.Cap = nil
	return p
}

// Validate rejects policies that cannot produce a sensible allocation
func (p Policy) Validate() error {
	if !p.Pool.IsPositive() {
		return errors.New("reward pool must be positive")
	}
	if !p.RoundingUnit.IsPositive() {
		return errors.New("rounding unit must be positive")
	}
	if p.MinPayable.IsNegative() {
		return errors.New("minimum payable must not be negative")
	}
	if p.Cap != nil && p.Cap.LessThan(p.MinPayable) {
		return errors.New("cap must not be below the minimum payable amount")
	}
	return nil
}

// Round snaps value to the nearest multiple of the rounding unit, halves up
func (p Policy) Round(value decimal.Decimal) decimal.Decimal {
	return value.Div(p.RoundingUnit).Round(0).Mul(p.RoundingUnit)
}

// Allocate maps normalized weights to points: weight*pool rounded to the
// unit, entries below MinPayable dropped, the rest clamped to Cap. Clamped
// surplus is not redistributed. Input order is preserved.
func Allocate(weights []Weight, p Policy) []Allocation {
	out := make([]Allocation, 0, len(weights))
	for _, w := range weights {
		points := p.Round(decimal.NewFromFloat(w.NormWeight).Mul(p.Pool))
		if points.LessThan(p.MinPayable) {
			continue
		}
		if p.Cap != nil && points.GreaterThan(*p.Cap) {
			points = *p.Cap
		}
		out = append(out, Allocation{ContributorID: w.ContributorID, Points: points})
	}
	return out
}

// Preview allocates with p, orders by points descending and keeps at most limit entries
func Preview(weights []Weight, p Policy, limit int) []Allocation {
	allocs := Allocate(weights, p)
	sort.SliceStable(allocs, func(i, j int) bool {
		return allocs[i].Points.GreaterThan(allocs[j].Points)
	})
	if limit >= 0 && len(allocs) > limit {
		allocs = allocs[:limit]
	}
	return allocs
}

// Total sums the points of allocs
func Total(allocs []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocs {
		total = total.Add(a.Points)
	}
	return total
}
