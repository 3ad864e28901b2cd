package codegen

import (
	"strings"
	"unicode"
)

// goInitialisms are name fragments rendered in caps in generated Go
// identifiers, matching the convention of the handwritten handlers
// (PropertyID, ListingID).
var goInitialisms = map[string]string{
	"api":   "API",
	"db":    "DB",
	"http":  "HTTP",
	"https": "HTTPS",
	"id":    "ID",
	"ids":   "IDs",
	"json":  "JSON",
	"rpc":   "RPC",
	"sql":   "SQL",
	"uri":   "URI",
	"url":   "URL",
}

// GoTypeName maps a supported event parameter type to the Go type used in
// decoded event structs and record structs. Unsigned integers map to
// *big.Int regardless of width so every numeric column stores the canonical
// decimal string.
func GoTypeName(solType string) string {
	switch solType {
	case "address":
		return "common.Address"
	case "bool":
		return "bool"
	case "bytes32":
		return "common.Hash"
	}

	if strings.HasPrefix(solType, "uint") {
		return "*big.Int"
	}

	return ""
}

// ColumnType maps a supported event parameter type to its SQLite column
// type. Addresses, hashes and big integers are stored as their canonical
// text forms.
func ColumnType(solType string) string {
	if solType == "bool" {
		return "BOOLEAN"
	}

	return "TEXT"
}

// MeddlerTag renders the meddler struct tag for a parameter, picking the
// converter that matches its type.
func MeddlerTag(param EventParam) string {
	column := DBFieldName(param.Name)

	switch {
	case param.Type == "address":
		return `meddler:"` + column + `,address"`
	case param.Type == "bytes32":
		return `meddler:"` + column + `,hash"`
	case strings.HasPrefix(param.Type, "uint"):
		return `meddler:"` + column + `,bigint"`
	default:
		return `meddler:"` + column + `"`
	}
}

// DBFieldName converts a parameter name to its column name. The from and to
// parameters of transfer-style events get an _address suffix so the columns
// stay clear of SQL keywords.
func DBFieldName(name string) string {
	snake := ToSnakeCase(name)
	switch snake {
	case "from", "to":
		return snake + "_address"
	}

	return snake
}

// GoFieldName converts an event parameter name to its Go struct field name.
func GoFieldName(name string) string {
	return ToPascalCase(ToSnakeCase(name))
}

// JSONFieldName converts an event parameter name to its JSON payload key.
func JSONFieldName(name string) string {
	return ToLowerCamelCase(ToSnakeCase(name))
}

// ToSnakeCase converts camelCase and PascalCase identifiers to snake_case,
// keeping acronym runs together: propertyID becomes property_id and
// parseHTML becomes parse_html.
func ToSnakeCase(s string) string {
	runes := []rune(s)

	var b strings.Builder
	for i, r := range runes {
		if r == '-' || r == ' ' {
			b.WriteRune('_')
			continue
		}
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteRune('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}

	return b.String()
}

// ToPascalCase converts snake_case to PascalCase, rendering known
// initialisms in caps.
func ToPascalCase(s string) string {
	var b strings.Builder
	for _, part := range splitWords(s) {
		lower := strings.ToLower(part)
		if initialism, ok := goInitialisms[lower]; ok {
			b.WriteString(initialism)
			continue
		}
		b.WriteString(strings.ToUpper(lower[:1]) + lower[1:])
	}

	return b.String()
}

// ToLowerCamelCase converts snake_case to lowerCamelCase without initialism
// casing, matching the JSON keys of the event payloads (propertyId).
func ToLowerCamelCase(s string) string {
	var b strings.Builder
	for i, part := range splitWords(s) {
		lower := strings.ToLower(part)
		if i == 0 {
			b.WriteString(lower)
			continue
		}
		b.WriteString(strings.ToUpper(lower[:1]) + lower[1:])
	}

	return b.String()
}

func splitWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '_' || r == '-' || r == ' '
	})
}

// Pluralize naively pluralizes a table name word. Past-participle event
// names (created, filled, withdrawn) read as completed facts and stay
// unchanged.
func Pluralize(word string) string {
	switch {
	case strings.HasSuffix(word, "ed"), strings.HasSuffix(word, "en"), strings.HasSuffix(word, "wn"):
		return word
	case strings.HasSuffix(word, "s"), strings.HasSuffix(word, "x"), strings.HasSuffix(word, "z"),
		strings.HasSuffix(word, "ch"), strings.HasSuffix(word, "sh"):
		return word + "es"
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	default:
		return word + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u':
		return true
	}

	return false
}

// TableName returns the event-record table for one event of a handler kind,
// for example valuation_oracle_valuation_updated.
func TableName(kind, eventName string) string {
	return kind + "_" + Pluralize(ToSnakeCase(eventName))
}
