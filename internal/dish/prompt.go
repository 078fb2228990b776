package dish

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pageza/nibble/backend/internal/rerank"
	"github.com/pageza/nibble/backend/internal/retrieval"
)

// NeighborsPrompt asks for an estimate from neighbor context alone.
func NeighborsPrompt(neighbors []retrieval.Neighbor) (string, error) {
	contextJSON, err := json.MarshalIndent(neighbors, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal neighbors: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are given nearest-neighbor dishes for an input food photo. ")
	b.WriteString("Using ONLY the context below, produce a best-effort JSON with keys:\n")
	b.WriteString(`  - "estimated_calories": number (kcal)` + "\n")
	b.WriteString(`  - "estimated_fat": number (grams)` + "\n")
	b.WriteString(`  - "estimated_protein": number (grams)` + "\n")
	b.WriteString(`  - "estimated_carbs": number (grams)` + "\n")
	b.WriteString(`  - "dish_title": string` + "\n")
	b.WriteString(`  - "description": string (1-2 sentences)` + "\n")
	b.WriteString(`  - "key_ingredients": array of strings (3-8 items)` + "\n")
	b.WriteString("When estimating calories, prefer neighbors with similar ingredients ")
	b.WriteString("and macronutrients. If conflicting, average reasonable neighbors and ")
	b.WriteString("round to a sensible whole number.\n\n")
	fmt.Fprintf(&b, "Context (top %d neighbors):\n%s\n\n", len(neighbors), contextJSON)
	b.WriteString("Return ONLY the JSON object, no extra text.")
	return b.String(), nil
}

// HybridPrompt asks for an estimate from re-ranked neighbors and a photo excerpt.
func HybridPrompt(imageExcerpt string, ranked []rerank.Ranked) (string, error) {
	contextJSON, err := json.MarshalIndent(ranked, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal ranked neighbors: %w", err)
	}

	var b strings.Builder
	b.WriteString("You are identifying a dish from a food photo. ")
	b.WriteString("Reference dishes were retrieved by visual similarity and re-ranked by ")
	b.WriteString("combining image similarity with ingredient similarity (fused_score, higher is closer).\n\n")
	fmt.Fprintf(&b, "Photo (base64, first %d characters):\n%s\n\n", len(imageExcerpt), imageExcerpt)
	fmt.Fprintf(&b, "Reference dishes (top %d by fused_score):\n%s\n\n", len(ranked), contextJSON)
	b.WriteString("Produce a best-effort JSON with keys:\n")
	b.WriteString(`  - "dish_title": string` + "\n")
	b.WriteString(`  - "description": string (1-2 sentences)` + "\n")
	b.WriteString(`  - "key_ingredients": array of strings (3-8 items)` + "\n")
	b.WriteString(`  - "total_calories": number (kcal)` + "\n")
	b.WriteString(`  - "total_fat": number (grams)` + "\n")
	b.WriteString(`  - "total_carbs": number (grams)` + "\n")
	b.WriteString(`  - "total_protein": number (grams)` + "\n")
	b.WriteString("Weight the highest ranked dishes most. ")
	b.WriteString("Return ONLY the JSON object, no extra text.")
	return b.String(), nil
}
