package pipeline

import (
	"math"
	"reflect"
	"testing"
)

func TestParseBudget(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"$20", 20, false},
		{" 45.50 ", 45.5, false},
		{"$1,200", 1200, false},
		{"free", 0, true},
		{"-5", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseBudget(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseBudget(%q) = %v, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBudget(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseBudget(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAllowedCategoriesTiers(t *testing.T) {
	cases := []struct {
		budget float64
		want   []string
	}{
		{20, []string{"facial_wash", "moisturizer", "sunscreen"}},
		{29.99, []string{"facial_wash", "moisturizer", "sunscreen"}},
		{30, []string{"facial_wash", "moisturizer", "sunscreen", "treatment"}},
		{60, []string{"facial_wash", "moisturizer", "sunscreen", "treatment", "toner", "serum"}},
		{250, fullCategories},
	}
	for _, tc := range cases {
		if got := AllowedCategories(tc.budget); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("AllowedCategories(%v) = %v, want %v", tc.budget, got, tc.want)
		}
	}
}

func TestValidateAllocation(t *testing.T) {
	allowed := []string{"facial_wash", "moisturizer", "sunscreen"}

	ok := map[string]float64{"facial_wash": 30, "moisturizer": 40, "sunscreen": 30}
	if err := ValidateAllocation(ok, allowed); err != nil {
		t.Errorf("valid allocation rejected: %v", err)
	}

	under := map[string]float64{"facial_wash": 30, "moisturizer": 40, "sunscreen": 27}
	if err := ValidateAllocation(under, allowed); err == nil {
		t.Error("allocation summing to 97 accepted")
	}

	over := map[string]float64{"facial_wash": 33, "moisturizer": 40, "sunscreen": 30}
	if err := ValidateAllocation(over, allowed); err == nil {
		t.Error("allocation summing to 103 accepted")
	}

	rogue := map[string]float64{"facial_wash": 30, "serum": 40, "sunscreen": 30}
	if err := ValidateAllocation(rogue, allowed); err == nil {
		t.Error("allocation with out-of-tier category accepted")
	}

	if err := ValidateAllocation(nil, allowed); err == nil {
		t.Error("empty allocation accepted")
	}
}

func TestCategoryBudgetRoundsToCents(t *testing.T) {
	if got := CategoryBudget(20, 40); got != 8 {
		t.Errorf("CategoryBudget(20, 40) = %v, want 8", got)
	}
	if got := CategoryBudget(45.50, 33.3); math.Abs(got-15.15) > 0.001 {
		t.Errorf("CategoryBudget(45.50, 33.3) = %v, want 15.15", got)
	}
}

func TestCategoryBudgets(t *testing.T) {
	got := CategoryBudgets(20, map[string]float64{"facial_wash": 35, "moisturizer": 35, "sunscreen": 30})
	want := map[string]float64{"facial_wash": 7, "moisturizer": 7, "sunscreen": 6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CategoryBudgets = %v, want %v", got, want)
	}
}
