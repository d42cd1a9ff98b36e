package pipeline

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Budget tiers. A tier grants its categories to budgets strictly below the
// boundary; anything at or above the top boundary unlocks the full set.
const (
	tierEssential = 30
	tierCore      = 60
	tierExtended  = 100
)

var (
	essentialCategories = []string{"facial_wash", "moisturizer", "sunscreen"}
	coreCategories      = []string{"facial_wash", "moisturizer", "sunscreen", "treatment"}
	extendedCategories  = []string{"facial_wash", "moisturizer", "sunscreen", "treatment", "toner", "serum"}
	fullCategories      = []string{
		"facial_wash", "moisturizer", "sunscreen", "treatment", "toner",
		"serum", "eye_cream", "exfoliant", "mask", "essence", "ampoule",
	}
)

// allocationTolerance is how far an allocation's percentage sum may drift
// from 100 before it is rejected.
const allocationTolerance = 0.5

// ParseBudget reads the user's budget string, tolerating a currency prefix
// and surrounding whitespace.
func ParseBudget(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing budget %q: %w", raw, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("budget %q must be positive", raw)
	}
	return v, nil
}

// AllowedCategories returns the product categories a budget can cover.
func AllowedCategories(budget float64) []string {
	switch {
	case budget < tierEssential:
		return essentialCategories
	case budget < tierCore:
		return coreCategories
	case budget < tierExtended:
		return extendedCategories
	default:
		return fullCategories
	}
}

// ValidateAllocation checks a model-produced budget split: every category must
// be allowed for the budget and the percentages must sum to 100 within
// tolerance.
func ValidateAllocation(alloc map[string]float64, allowed []string) error {
	if len(alloc) == 0 {
		return fmt.Errorf("allocation is empty")
	}

	permitted := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		permitted[c] = true
	}

	var sum float64
	var bad []string
	for category, pct := range alloc {
		if !permitted[category] {
			bad = append(bad, category)
		}
		if pct < 0 {
			return fmt.Errorf("allocation gives %q a negative share %.2f", category, pct)
		}
		sum += pct
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return fmt.Errorf("allocation includes categories outside the budget tier: %s", strings.Join(bad, ", "))
	}
	if math.Abs(sum-100) > allocationTolerance {
		return fmt.Errorf("allocation percentages sum to %.2f, want 100", sum)
	}
	return nil
}

// CategoryBudget converts a percentage share into dollars, rounded to cents.
func CategoryBudget(total, percent float64) float64 {
	return math.Round(total*percent) / 100
}

// CategoryBudgets expands an allocation into per-category dollar amounts.
func CategoryBudgets(total float64, alloc map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(alloc))
	for category, pct := range alloc {
		out[category] = CategoryBudget(total, pct)
	}
	return out
}
