package dish

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DishEstimate is a parsed summary. Numeric fields are nil when the summary
// does not provide them.
type DishEstimate struct {
	Title          string   `json:"dish_title"`
	Description    string   `json:"description"`
	KeyIngredients []string `json:"key_ingredients"`
	Calories       *float64 `json:"calories,omitempty"`
	Fat            *float64 `json:"fat,omitempty"`
	Carbs          *float64 `json:"carbs,omitempty"`
	Protein        *float64 `json:"protein,omitempty"`
}

// Both prompt variants are accepted; estimated_proten is what older prompts asked for.
var (
	calorieKeys = []string{"estimated_calories", "total_calories"}
	fatKeys     = []string{"estimated_fat", "total_fat"}
	carbKeys    = []string{"estimated_carbs", "total_carbs", "total_carb"}
	proteinKeys = []string{"estimated_protein", "total_protein", "estimated_proten"}
)

// ParseEstimate reads a summary produced by either prompt. Markdown fences and
// text around the JSON object are ignored.
func ParseEstimate(summary string) (*DishEstimate, error) {
	start := strings.IndexByte(summary, '{')
	end := strings.LastIndexByte(summary, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("summary contains no JSON object")
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(summary[start:end+1]), &fields); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}

	est := &DishEstimate{
		Title:          stringField(fields, "dish_title"),
		Description:    stringField(fields, "description"),
		KeyIngredients: []string{},
		Calories:       numberField(fields, calorieKeys),
		Fat:            numberField(fields, fatKeys),
		Carbs:          numberField(fields, carbKeys),
		Protein:        numberField(fields, proteinKeys),
	}
	if list, ok := fields["key_ingredients"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				est.KeyIngredients = append(est.KeyIngredients, strings.TrimSpace(s))
			}
		}
	}
	return est, nil
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return strings.TrimSpace(s)
}

func numberField(fields map[string]any, keys []string) *float64 {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case float64:
			return &v
		case string:
			// "520 kcal" and "12g" both occur in practice.
			token := strings.TrimSpace(v)
			if i := strings.IndexFunc(token, func(r rune) bool {
				return !(r >= '0' && r <= '9' || r == '.' || r == '-')
			}); i >= 0 {
				token = token[:i]
			}
			if f, err := strconv.ParseFloat(token, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}
