package notif

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Placeholder syntax: {{name}}. Deliberately not text/template: templates must
// stay pure placeholder substitution, with no pipelines or conditionals that
// would turn them into a second programming language.
var placeholderRegex = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Vars is a template variable bag.
type Vars map[string]interface{}

// Merge returns a copy of v overlaid with override. Neither input is mutated.
func (v Vars) Merge(override Vars) Vars {
	if len(override) == 0 {
		return v
	}
	merged := make(Vars, len(v)+len(override))
	for k, val := range v {
		merged[k] = val
	}
	for k, val := range override {
		merged[k] = val
	}
	return merged
}

// Stringify converts a variable value to its canonical, locale-independent
// string form: decimal for numbers, RFC 3339 for times.
func Stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// Render binds a template and a variable bag into concrete title/body strings.
// A declared required variable missing from the bag fails with
// *MissingVariableError; extra variables are ignored. Placeholders that are
// neither required nor present are left verbatim.
func Render(tmpl Template, vars Vars) (title, body string, err error) {
	for _, name := range tmpl.RequiredVars {
		if _, ok := vars[name]; !ok {
			return "", "", &MissingVariableError{Variable: name}
		}
	}
	return substitute(tmpl.TitleTmpl, vars), substitute(tmpl.BodyTmpl, vars), nil
}

func substitute(s string, vars Vars) string {
	return placeholderRegex.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return Stringify(v)
		}
		return match
	})
}
