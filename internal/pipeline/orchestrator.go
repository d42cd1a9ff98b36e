// Package pipeline runs the four-phase skincare workflow: intake, photo
// analysis, budgeted product recommendation, and routine generation. Each
// phase persists its result before the next may run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/seraface/seraface/internal/genai"
	"github.com/seraface/seraface/internal/phases"
	"github.com/seraface/seraface/internal/products"
	"github.com/seraface/seraface/internal/storage"
)

// Generator produces model completions for the pipeline's prompts.
type Generator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
	GenerateVision(ctx context.Context, prompt string, image []byte, mimeType string) (string, error)
}

// Resolver turns product suggestions into shopping listings.
type Resolver interface {
	ResolveMany(ctx context.Context, reqs []products.Request, sessionID string) []products.Outcome
}

// PreconditionError reports a phase run out of order.
type PreconditionError struct {
	SessionID string
	Missing   phases.Phase
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("session %s has no %s data; complete that phase first", e.SessionID, e.Missing.Name())
}

// Orchestrator wires the generator, the product resolver, and the phase store
// into the workflow.
type Orchestrator struct {
	store    *phases.Store
	gen      Generator
	resolver Resolver
}

func New(store *phases.Store, gen Generator, resolver Resolver) *Orchestrator {
	return &Orchestrator{store: store, gen: gen, resolver: resolver}
}

// loadRequired loads a prior phase's payload, translating absence into a
// PreconditionError.
func (o *Orchestrator) loadRequired(sessionID string, p phases.Phase, dest any) error {
	err := o.store.LoadPhase(sessionID, p, dest)
	if errors.Is(err, storage.ErrNotFound) {
		return &PreconditionError{SessionID: sessionID, Missing: p}
	}
	return err
}

// RunIntake validates the intake form, mints a session, and persists the form
// as phase 1.
func (o *Orchestrator) RunIntake(_ context.Context, form phases.IntakeForm) (string, error) {
	if form.SkinType == "" {
		return "", fmt.Errorf("intake form: skin_type is required")
	}
	if _, err := ParseBudget(form.Budget); err != nil {
		return "", fmt.Errorf("intake form: %w", err)
	}

	sessionID := phases.NewSessionID()
	if err := o.store.SavePhase(sessionID, phases.PhaseIntake, form); err != nil {
		return "", err
	}
	slog.Info("intake saved", "session", sessionID, "skin_type", form.SkinType)
	return sessionID, nil
}

// RunImageAnalysis sends the user's photo to the vision model and persists
// the structured analysis as phase 2. Requires phase 1.
func (o *Orchestrator) RunImageAnalysis(ctx context.Context, sessionID string, image []byte, mimeType string) (*phases.SkinAnalysis, error) {
	var form phases.IntakeForm
	if err := o.loadRequired(sessionID, phases.PhaseIntake, &form); err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("image analysis: empty image")
	}

	raw, err := o.gen.GenerateVision(ctx, visionPrompt, image, mimeType)
	if err != nil {
		return nil, fmt.Errorf("analyzing photo for session %s: %w", sessionID, err)
	}
	var analysis phases.SkinAnalysis
	if err := genai.DecodeJSON(raw, &analysis); err != nil {
		return nil, err
	}

	if err := o.store.SavePhase(sessionID, phases.PhaseAnalysis, analysis); err != nil {
		return nil, err
	}
	slog.Info("photo analysis saved", "session", sessionID, "skin_type", analysis.SkinType)
	return &analysis, nil
}

// RunRecommendation builds the phase 3 recommendation: a validated budget
// split, model-suggested products per category, each resolved against the
// shopping API, plus future suggestions for categories the budget excludes.
// Requires phases 1 and 2. The result is persisted only once every step has
// succeeded; a failed run leaves no partial phase 3 data behind.
func (o *Orchestrator) RunRecommendation(ctx context.Context, sessionID string) (*phases.Recommendation, error) {
	var form phases.IntakeForm
	if err := o.loadRequired(sessionID, phases.PhaseIntake, &form); err != nil {
		return nil, err
	}
	var analysis phases.SkinAnalysis
	if err := o.loadRequired(sessionID, phases.PhaseAnalysis, &analysis); err != nil {
		return nil, err
	}

	budget, err := ParseBudget(form.Budget)
	if err != nil {
		return nil, err
	}
	allowed := AllowedCategories(budget)

	alloc, err := o.requestAllocation(ctx, form, &analysis, budget, allowed)
	if err != nil {
		return nil, err
	}
	perCategory := CategoryBudgets(budget, alloc)

	rec := phases.Recommendation{
		TotalBudget:     budget,
		Allocation:      alloc,
		CategoryBudgets: perCategory,
		Products:        make(map[string][]phases.EnrichedProduct, len(alloc)),
	}

	// Suggestions are gathered per category, then resolved as one batch so
	// the resolver's concurrency limit spans the whole phase.
	var reqs []products.Request
	var slots []*phases.EnrichedProduct

	categories := make([]string, 0, len(alloc))
	for c := range alloc {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, category := range categories {
		suggestions, err := o.requestSuggestions(ctx, categoryPrompt(form, &analysis, category, perCategory[category]))
		if err != nil {
			return nil, fmt.Errorf("suggesting %s products: %w", category, err)
		}
		enriched := make([]phases.EnrichedProduct, len(suggestions))
		for i, sug := range suggestions {
			enriched[i] = phases.EnrichedProduct{Suggestion: sug}
			reqs = append(reqs, products.Request{
				Query: sug.Name,
				Context: products.RecommendationContext{
					Category:         category,
					RecommendedPrice: sug.Price,
					AIRecommended:    true,
					SearchType:       "ai_recommendation",
					UserContext:      form.SkinType,
				},
			})
			slots = append(slots, &enriched[i])
		}
		rec.Products[category] = enriched
	}

	if excluded := excludedCategories(allowed); len(excluded) > 0 {
		future, ferr := o.requestFuture(ctx, form, &analysis, excluded)
		if ferr != nil {
			// Future picks are advisory; losing them does not fail the phase.
			slog.Warn("future recommendations failed", "session", sessionID, "error", ferr)
		} else {
			for fi := range future {
				for pi := range future[fi].Products {
					slot := &future[fi].Products[pi]
					reqs = append(reqs, products.Request{
						Query: slot.Suggestion.Name,
						Context: products.RecommendationContext{
							Category:         future[fi].Category,
							RecommendedPrice: slot.Suggestion.Price,
							AIRecommended:    true,
							SearchType:       "future_recommendation",
							UserContext:      form.SkinType,
						},
					})
					slots = append(slots, slot)
				}
			}
			rec.Future = future
		}
	}

	outcomes := o.resolver.ResolveMany(ctx, reqs, sessionID)
	for i, out := range outcomes {
		if out.Err != nil {
			slots[i].Error = out.Err.Error()
			continue
		}
		slots[i].Details = out.Product
		slots[i].Resolved = true
	}

	if err := o.store.SavePhase(sessionID, phases.PhaseRecommendation, rec); err != nil {
		return nil, err
	}
	slog.Info("recommendation saved", "session", sessionID,
		"budget", budget, "categories", len(rec.Products), "products", len(reqs))
	return &rec, nil
}

// RunRoutine generates the phase 4 routine from the recommended products.
// Requires phases 1 through 3.
func (o *Orchestrator) RunRoutine(ctx context.Context, sessionID string) (*phases.Routine, error) {
	var form phases.IntakeForm
	if err := o.loadRequired(sessionID, phases.PhaseIntake, &form); err != nil {
		return nil, err
	}
	var rec phases.Recommendation
	if err := o.loadRequired(sessionID, phases.PhaseRecommendation, &rec); err != nil {
		return nil, err
	}
	// The photo analysis enriches the prompt but is not required here; it may
	// have expired even though the recommendation built from it survives.
	var analysis *phases.SkinAnalysis
	var loaded phases.SkinAnalysis
	switch err := o.store.LoadPhase(sessionID, phases.PhaseAnalysis, &loaded); {
	case err == nil:
		analysis = &loaded
	case !errors.Is(err, storage.ErrNotFound):
		return nil, err
	}

	raw, err := o.gen.GenerateText(ctx, routinePrompt(form, analysis, rec))
	if err != nil {
		return nil, fmt.Errorf("generating routine for session %s: %w", sessionID, err)
	}
	var steps []phases.RoutineStep
	if err := genai.DecodeJSON(raw, &steps); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, &genai.ParseError{Raw: raw, Err: errors.New("routine has no steps")}
	}

	routine := phases.Routine{Steps: steps}
	if err := o.store.SavePhase(sessionID, phases.PhaseRoutine, routine); err != nil {
		return nil, err
	}
	slog.Info("routine saved", "session", sessionID, "steps", len(steps))
	return &routine, nil
}

// requestAllocation asks the model for a budget split and validates it. An
// invalid split earns one corrective retry quoting the validation failure.
func (o *Orchestrator) requestAllocation(ctx context.Context, form phases.IntakeForm, analysis *phases.SkinAnalysis, budget float64, allowed []string) (map[string]float64, error) {
	alloc, err := o.decodeAllocation(ctx, allocationPrompt(form, analysis, budget, allowed))
	if err == nil {
		if verr := ValidateAllocation(alloc, allowed); verr == nil {
			return alloc, nil
		} else {
			err = verr
		}
	}

	slog.Warn("budget allocation rejected, retrying", "error", err)
	alloc, rerr := o.decodeAllocation(ctx, correctiveAllocationPrompt(form, analysis, budget, allowed, err))
	if rerr != nil {
		return nil, rerr
	}
	if verr := ValidateAllocation(alloc, allowed); verr != nil {
		return nil, fmt.Errorf("budget allocation invalid after retry: %w", verr)
	}
	return alloc, nil
}

func (o *Orchestrator) decodeAllocation(ctx context.Context, prompt string) (map[string]float64, error) {
	raw, err := o.gen.GenerateText(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("requesting budget allocation: %w", err)
	}
	var alloc map[string]float64
	if err := genai.DecodeJSON(raw, &alloc); err != nil {
		return nil, err
	}
	return alloc, nil
}

func (o *Orchestrator) requestSuggestions(ctx context.Context, prompt string) ([]phases.SuggestedProduct, error) {
	raw, err := o.gen.GenerateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var suggestions []phases.SuggestedProduct
	if err := genai.DecodeJSON(raw, &suggestions); err != nil {
		return nil, err
	}
	return suggestions, nil
}

func (o *Orchestrator) requestFuture(ctx context.Context, form phases.IntakeForm, analysis *phases.SkinAnalysis, excluded []string) ([]phases.FutureCategory, error) {
	raw, err := o.gen.GenerateText(ctx, futurePrompt(form, analysis, excluded))
	if err != nil {
		return nil, err
	}
	var picks []struct {
		Category string                    `json:"category"`
		Products []phases.SuggestedProduct `json:"products"`
	}
	if err := genai.DecodeJSON(raw, &picks); err != nil {
		return nil, err
	}
	future := make([]phases.FutureCategory, 0, len(picks))
	for _, pick := range picks {
		fc := phases.FutureCategory{Category: pick.Category}
		for _, sug := range pick.Products {
			fc.Products = append(fc.Products, phases.EnrichedProduct{Suggestion: sug})
		}
		future = append(future, fc)
	}
	return future, nil
}

// excludedCategories lists the full-catalog categories the budget tier left
// out, preserving catalog order.
func excludedCategories(allowed []string) []string {
	in := make(map[string]bool, len(allowed))
	for _, c := range allowed {
		in[c] = true
	}
	var out []string
	for _, c := range fullCategories {
		if !in[c] {
			out = append(out, c)
		}
	}
	return out
}
