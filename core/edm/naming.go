package edm

import "strings"

// DefaultSetName returns the entity set name used for an entity type when a
// definition declares no entity sets: the English plural of the type name
// ("Category" → "Categories", "Person" → "People").
func DefaultSetName(typeName string) string {
	if typeName == "" {
		return ""
	}

	lower := strings.ToLower(typeName)
	if plural, ok := irregularPlurals[lower]; ok {
		if typeName[0] >= 'A' && typeName[0] <= 'Z' {
			return strings.ToUpper(plural[:1]) + plural[1:]
		}
		return plural
	}

	switch {
	case hasAnySuffix(lower, "s", "x", "z", "ch", "sh"):
		return typeName + "es"
	case strings.HasSuffix(lower, "y") && len(lower) > 1 && !isVowel(lower[len(lower)-2]):
		return typeName[:len(typeName)-1] + "ies"
	case strings.HasSuffix(lower, "fe"):
		return typeName[:len(typeName)-2] + "ves"
	case strings.HasSuffix(lower, "f"):
		return typeName[:len(typeName)-1] + "ves"
	}

	return typeName + "s"
}

func hasAnySuffix(s string, suffixes ...string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

func isVowel(c byte) bool {
	switch c {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}
	return false
}

var irregularPlurals = map[string]string{
	"person": "people",
	"child":  "children",
	"man":    "men",
	"woman":  "women",
	"mouse":  "mice",
	"index":  "indices",
	"datum":  "data",
	"status": "statuses",
}
