// Package phases defines the four workflow phases and the session-scoped
// persistence layer for their results.
package phases

import "github.com/seraface/seraface/internal/products"

// Phase identifies one step of the skincare workflow. Phases are ordered and
// each depends on every phase before it.
type Phase int

const (
	PhaseIntake Phase = iota + 1
	PhaseAnalysis
	PhaseRecommendation
	PhaseRoutine
)

// AllPhases lists the phases in execution order.
var AllPhases = []Phase{PhaseIntake, PhaseAnalysis, PhaseRecommendation, PhaseRoutine}

// Name returns the storage name for the phase, "phase1" through "phase4".
func (p Phase) Name() string {
	return "phase" + string(rune('0'+int(p)))
}

// ProductExperience records the user's history with one product.
type ProductExperience struct {
	Product    string `json:"product"`
	Experience string `json:"experience"`
	Reason     string `json:"reason,omitempty"`
}

// IntakeForm is the phase 1 payload: the user's self-reported skin profile.
type IntakeForm struct {
	SkinType           string              `json:"skin_type"`
	SkinConditions     []string            `json:"skin_conditions,omitempty"`
	Budget             string              `json:"budget"`
	Allergies          []string            `json:"allergies,omitempty"`
	ProductExperiences []ProductExperience `json:"product_experiences,omitempty"`
	Goals              []string            `json:"goals,omitempty"`
	CustomGoal         string              `json:"custom_goal,omitempty"`
}

// SeverityCount describes a counted finding such as acne or blackheads.
type SeverityCount struct {
	Severity      string   `json:"severity"`
	CountEstimate string   `json:"count_estimate,omitempty"`
	Location      []string `json:"location,omitempty"`
}

// PresenceLocations describes a present/absent finding with locations.
type PresenceLocations struct {
	Presence bool     `json:"presence"`
	Location []string `json:"location,omitempty"`
}

// LevelLocations describes a graded finding such as redness or oiliness.
type LevelLocations struct {
	Level    string   `json:"level"`
	Location []string `json:"location,omitempty"`
}

// DarkSpots describes pigmentation findings.
type DarkSpots struct {
	Presence    bool   `json:"presence"`
	Description string `json:"description,omitempty"`
}

// FineLines describes visible aging findings.
type FineLines struct {
	Presence bool     `json:"presence"`
	Areas    []string `json:"areas,omitempty"`
}

// SkinAnalysis is the phase 2 payload: the vision model's read of the user's
// photo.
type SkinAnalysis struct {
	SkinType       string            `json:"skin_type"`
	Acne           SeverityCount     `json:"acne"`
	Blackheads     SeverityCount     `json:"blackheads"`
	Whiteheads     SeverityCount     `json:"whiteheads"`
	DarkSpots      DarkSpots         `json:"dark_spots"`
	Redness        LevelLocations    `json:"redness"`
	Oiliness       LevelLocations    `json:"oiliness"`
	Dryness        LevelLocations    `json:"dryness"`
	UnevenTexture  PresenceLocations `json:"uneven_texture"`
	EnlargedPores  PresenceLocations `json:"enlarged_pores"`
	DarkCircles    LevelLocations    `json:"dark_circles"`
	FineLines      FineLines         `json:"fine_lines"`
	OverallHealth  string            `json:"overall_skin_health"`
	Recommendation string            `json:"recommendation_summary,omitempty"`
}

// SuggestedProduct is one product the model proposed for a category, before
// resolution against the shopping API.
type SuggestedProduct struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// EnrichedProduct pairs a model suggestion with its resolved listing, when
// resolution succeeded.
type EnrichedProduct struct {
	Suggestion SuggestedProduct  `json:"suggestion"`
	Details    *products.Product `json:"details,omitempty"`
	Resolved   bool              `json:"resolved"`
	Error      string            `json:"error,omitempty"`
}

// FutureCategory holds suggestions for a category outside the current budget.
type FutureCategory struct {
	Category string            `json:"category"`
	Products []EnrichedProduct `json:"products"`
}

// Recommendation is the phase 3 payload: the budget split and the products
// chosen within it.
type Recommendation struct {
	TotalBudget     float64                      `json:"total_budget"`
	Allocation      map[string]float64           `json:"allocation"`
	CategoryBudgets map[string]float64           `json:"category_budgets"`
	Products        map[string][]EnrichedProduct `json:"products"`
	Future          []FutureCategory             `json:"future_recommendations,omitempty"`
}

// RoutineStep is one step of the generated routine.
type RoutineStep struct {
	Category     string          `json:"category"`
	Name         string          `json:"name"`
	Tag          string          `json:"tag,omitempty"`
	Description  string          `json:"description,omitempty"`
	Instructions []string        `json:"instructions,omitempty"`
	DurationSec  int             `json:"duration"`
	WaitingSec   int             `json:"waiting_time"`
	Days         map[string]bool `json:"days,omitempty"`
	Times        []string        `json:"time,omitempty"`
}

// Routine is the phase 4 payload.
type Routine struct {
	Steps []RoutineStep `json:"steps"`
}
