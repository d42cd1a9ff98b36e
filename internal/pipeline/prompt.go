package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/seraface/seraface/internal/phases"
)

// Prompts ask for bare JSON, but models still wrap output in code fences or
// prose at times; genai.DecodeJSON copes with that on the way back in.

const visionPrompt = `You are a dermatology assistant. Analyze the facial skin in this photo and respond with a single JSON object, no commentary, matching exactly this shape:
{
  "skin_type": "oily|dry|combination|normal|sensitive",
  "acne": {"severity": "none|mild|moderate|severe", "count_estimate": "", "location": []},
  "blackheads": {"severity": "none|mild|moderate|severe", "count_estimate": "", "location": []},
  "whiteheads": {"severity": "none|mild|moderate|severe", "count_estimate": "", "location": []},
  "dark_spots": {"presence": false, "description": ""},
  "redness": {"level": "none|mild|moderate|severe", "location": []},
  "oiliness": {"level": "none|mild|moderate|severe", "location": []},
  "dryness": {"level": "none|mild|moderate|severe", "location": []},
  "uneven_texture": {"presence": false, "location": []},
  "enlarged_pores": {"presence": false, "location": []},
  "dark_circles": {"level": "none|mild|moderate|severe", "location": []},
  "fine_lines": {"presence": false, "areas": []},
  "overall_skin_health": "",
  "recommendation_summary": ""
}`

func allocationPrompt(form phases.IntakeForm, analysis *phases.SkinAnalysis, budget float64, allowed []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a skincare budgeting assistant. The user has $%.2f to spend on a routine.\n", budget)
	fmt.Fprintf(&b, "Split 100%% of the budget across ONLY these categories: %s.\n", strings.Join(allowed, ", "))
	b.WriteString("Respond with a single JSON object mapping category name to percentage, e.g. {\"facial_wash\": 30, \"moisturizer\": 40, \"sunscreen\": 30}. Percentages must sum to exactly 100.\n\n")
	writeProfile(&b, form, analysis)
	return b.String()
}

// correctiveAllocationPrompt retries a rejected split, telling the model what
// was wrong with its first attempt.
func correctiveAllocationPrompt(form phases.IntakeForm, analysis *phases.SkinAnalysis, budget float64, allowed []string, reason error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Your previous budget split was invalid: %v.\n\n", reason)
	b.WriteString(allocationPrompt(form, analysis, budget, allowed))
	return b.String()
}

func categoryPrompt(form phases.IntakeForm, analysis *phases.SkinAnalysis, category string, categoryBudget float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Suggest 3 real, purchasable %s products for this user, each priced at or under $%.2f.\n", category, categoryBudget)
	b.WriteString("Respond with a single JSON array of objects: [{\"name\": \"brand and product name\", \"price\": 0.0}]. Use exact product names a shopping search would find. No commentary.\n\n")
	writeProfile(&b, form, analysis)
	return b.String()
}

func futurePrompt(form phases.IntakeForm, analysis *phases.SkinAnalysis, excluded []string) string {
	var b strings.Builder
	b.WriteString("The user's current budget could not cover every product category. ")
	fmt.Fprintf(&b, "Suggest 2 affordable products for each of these categories they should consider later: %s.\n", strings.Join(excluded, ", "))
	b.WriteString("Respond with a single JSON array: [{\"category\": \"\", \"products\": [{\"name\": \"\", \"price\": 0.0}]}]. No commentary.\n\n")
	writeProfile(&b, form, analysis)
	return b.String()
}

func routinePrompt(form phases.IntakeForm, analysis *phases.SkinAnalysis, rec phases.Recommendation) string {
	var b strings.Builder
	b.WriteString("Create a daily skincare routine using ONLY the products listed below.\n")
	b.WriteString("Respond with a single JSON array of steps in application order: ")
	b.WriteString(`[{"category": "", "name": "", "tag": "", "description": "", "instructions": [], "duration": 0, "waiting_time": 0, "days": {"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true}, "time": ["morning", "evening"]}]`)
	b.WriteString(". duration and waiting_time are seconds. No commentary.\n\nProducts:\n")

	categories := make([]string, 0, len(rec.Products))
	for c := range rec.Products {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		for _, p := range rec.Products[c] {
			name := p.Suggestion.Name
			if p.Details != nil && p.Details.Title != "" {
				name = p.Details.Title
			}
			fmt.Fprintf(&b, "- %s: %s\n", c, name)
		}
	}
	b.WriteString("\n")
	writeProfile(&b, form, analysis)
	return b.String()
}

// writeProfile appends the user's intake form and, when available, the photo
// analysis so every prompt carries the same context.
func writeProfile(b *strings.Builder, form phases.IntakeForm, analysis *phases.SkinAnalysis) {
	b.WriteString("User profile:\n")
	fmt.Fprintf(b, "- skin type: %s\n", form.SkinType)
	if len(form.SkinConditions) > 0 {
		fmt.Fprintf(b, "- conditions: %s\n", strings.Join(form.SkinConditions, ", "))
	}
	if len(form.Allergies) > 0 {
		fmt.Fprintf(b, "- allergies (avoid these ingredients): %s\n", strings.Join(form.Allergies, ", "))
	}
	goals := form.Goals
	if form.CustomGoal != "" {
		goals = append(append([]string{}, goals...), form.CustomGoal)
	}
	if len(goals) > 0 {
		fmt.Fprintf(b, "- goals: %s\n", strings.Join(goals, ", "))
	}
	for _, exp := range form.ProductExperiences {
		fmt.Fprintf(b, "- tried %q: %s", exp.Product, exp.Experience)
		if exp.Reason != "" {
			fmt.Fprintf(b, " (%s)", exp.Reason)
		}
		b.WriteString("\n")
	}
	if analysis != nil {
		if data, err := json.Marshal(analysis); err == nil {
			fmt.Fprintf(b, "\nPhoto analysis:\n%s\n", data)
		}
	}
}
