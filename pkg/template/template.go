// Package template renders placeholder expressions against execution scope data.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/nexocrm/flowd/pkg/models"
)

// placeholderPattern matches the short placeholder form {{path.to.value}}
// used in step configs. Placeholders already written in Go template syntax
// (leading dot, pipelines, function calls) are left untouched.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)*)\s*\}\}`)

var templateFuncs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"rand": func(max int) int {
		if max <= 0 {
			return 0
		}

		num := make([]byte, 1)

		_, err := rand.Read(num)
		if err != nil {
			return 0
		}

		return int(num[0]) % max
	},
}

// RenderWithContext renders input against the flattened scope of an
// execution. Unknown placeholders render as the literal "<no value>";
// callers that need strict resolution should check for it.
func RenderWithContext(input string, executionCtx models.ExecutionContext) (any, error) {
	return Render(input, executionCtx.Scope())
}

// RenderString is RenderWithContext constrained to a string result. Numbers
// and booleans are formatted back to their textual form.
func RenderString(input string, executionCtx models.ExecutionContext) (string, error) {
	result, err := RenderWithContext(input, executionCtx)
	if err != nil {
		return "", err
	}

	switch v := result.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to stringify rendered value: %w", err)
		}

		return string(encoded), nil
	}
}

func Render(templateStr string, data any) (any, error) {
	normalized := normalize(templateStr)

	tmpl, err := template.
		New("transform").
		Funcs(templateFuncs).
		Parse(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	// Structured output first.
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return jsonResult, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

// RenderConfig renders every string value in a step config, descending into
// nested maps and slices. Non-string leaves pass through unchanged.
func RenderConfig(config map[string]any, executionCtx models.ExecutionContext) (map[string]any, error) {
	rendered, err := renderValue(config, executionCtx)
	if err != nil {
		return nil, err
	}

	result, ok := rendered.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rendered config is not an object")
	}

	return result, nil
}

func renderValue(value any, executionCtx models.ExecutionContext) (any, error) {
	switch v := value.(type) {
	case string:
		if !strings.Contains(v, "{{") {
			return v, nil
		}

		// String leaves stay strings so schema-validated configs keep
		// their declared types after rendering.
		return RenderString(v, executionCtx)
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, item := range v {
			rendered, err := renderValue(item, executionCtx)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}

			out[key] = rendered
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, item := range v {
			rendered, err := renderValue(item, executionCtx)
			if err != nil {
				return nil, err
			}

			out[i] = rendered
		}

		return out, nil
	default:
		return value, nil
	}
}

// normalize rewrites {{name.path}} placeholders into Go template field
// lookups. Reserved function names stay callable.
func normalize(templateStr string) string {
	return placeholderPattern.ReplaceAllStringFunc(templateStr, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]

		if _, reserved := templateFuncs[path]; reserved {
			return "{{" + path + "}}"
		}

		return "{{." + path + "}}"
	})
}
