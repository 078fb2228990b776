package retrieval

import (
	"encoding/json"
	"strconv"
	"strings"
)

// IngredientKind is the shape the ingredient metadata arrived in.
type IngredientKind int

const (
	IngredientsAbsent IngredientKind = iota
	// IngredientsJSONText is a string holding JSON, as the index stores it.
	IngredientsJSONText
	IngredientsList
	IngredientsObject
	IngredientsScalar
	IngredientsUnsupported
)

func (k IngredientKind) String() string {
	switch k {
	case IngredientsAbsent:
		return "absent"
	case IngredientsJSONText:
		return "json_text"
	case IngredientsList:
		return "list"
	case IngredientsObject:
		return "object"
	case IngredientsScalar:
		return "scalar"
	default:
		return "unsupported"
	}
}

// IngredientField is decoded ingredient metadata. Names are as found, not yet
// trimmed or lowercased.
type IngredientField struct {
	Kind  IngredientKind
	Names []string
}

// DecodeIngredients interprets raw ingredient metadata. It never fails; data it
// cannot read yields no names.
func DecodeIngredients(raw any) IngredientField {
	switch v := raw.(type) {
	case nil:
		return IngredientField{Kind: IngredientsAbsent}
	case string:
		var parsed any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil {
			return IngredientField{Kind: IngredientsScalar, Names: []string{v}}
		}
		inner := decodeParsed(parsed)
		return IngredientField{Kind: IngredientsJSONText, Names: inner.Names}
	case []byte:
		return DecodeIngredients(string(v))
	case json.RawMessage:
		return DecodeIngredients(string(v))
	default:
		return decodeParsed(raw)
	}
}

// decodeParsed handles values that are already structured. Strings here are
// names, never JSON.
func decodeParsed(raw any) IngredientField {
	switch v := raw.(type) {
	case nil:
		return IngredientField{Kind: IngredientsAbsent}
	case []any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := itemName(item); ok {
				names = append(names, name)
			}
		}
		return IngredientField{Kind: IngredientsList, Names: names}
	case []string:
		return IngredientField{Kind: IngredientsList, Names: append([]string(nil), v...)}
	case []map[string]any:
		names := make([]string, 0, len(v))
		for _, item := range v {
			if name, ok := objectName(item); ok {
				names = append(names, name)
			}
		}
		return IngredientField{Kind: IngredientsList, Names: names}
	case map[string]any:
		if name, ok := objectName(v); ok {
			return IngredientField{Kind: IngredientsObject, Names: []string{name}}
		}
		return IngredientField{Kind: IngredientsObject}
	}
	if s, ok := scalarString(raw); ok {
		return IngredientField{Kind: IngredientsScalar, Names: []string{s}}
	}
	return IngredientField{Kind: IngredientsUnsupported}
}

func itemName(item any) (string, bool) {
	if obj, ok := item.(map[string]any); ok {
		return objectName(obj)
	}
	return scalarString(item)
}

func objectName(obj map[string]any) (string, bool) {
	name, ok := obj["name"]
	if !ok {
		return "", false
	}
	return scalarString(name)
}

// scalarString formats strings and numbers. Booleans, lists and objects are not names.
func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case json.Number:
		return x.String(), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

// IngredientNames returns the trimmed, lowercased, non-empty ingredient names in raw.
func IngredientNames(raw any) []string {
	field := DecodeIngredients(raw)
	names := make([]string, 0, len(field.Names))
	for _, n := range field.Names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" {
			names = append(names, n)
		}
	}
	return names
}

// IngredientsText joins names into the text that is embedded for re-ranking.
func IngredientsText(names []string) string {
	return strings.Join(names, ", ")
}
