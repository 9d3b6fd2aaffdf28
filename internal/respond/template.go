package respond

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}|\{(\w+)\}`)

// FillTemplate substitutes {key} and {{key}} tokens in the template with
// persona argument values. Array values join with ", ". Unresolved tokens
// are left verbatim; substitution never fails.
func FillTemplate(template string, args map[string]any) string {
	if len(args) == 0 {
		return template
	}
	return placeholderRe.ReplaceAllStringFunc(template, func(token string) string {
		key := strings.Trim(token, "{}")
		val, ok := args[key]
		if !ok {
			return token
		}
		return formatArg(val)
	})
}

func formatArg(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			parts = append(parts, formatArg(item))
		}
		return strings.Join(parts, ", ")
	case float64:
		// JSON numbers decode as float64; render integers without a
		// trailing .0.
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
