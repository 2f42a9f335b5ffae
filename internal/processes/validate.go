package processes

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/mapfederate/procgate/internal/ogcerr"
)

// ValidateInputs checks the execution inputs against the schema block
// of the process description. Descriptions without an inputs block
// accept anything; providers remain the final authority.
func ValidateInputs(desc map[string]any, inputs map[string]any) error {
	declared, ok := desc["inputs"].(map[string]any)

	if !ok {
		return nil
	}

	var problems []string

	for name, rawDecl := range declared {
		decl, isMap := rawDecl.(map[string]any)

		if !isMap {
			continue
		}

		value, provided := inputs[name]

		if !provided {
			if minOccurs(decl) > 0 {
				problems = append(problems, fmt.Sprintf("input %q is required", name))
			}
			continue
		}

		schema, hasSchema := decl["schema"].(map[string]any)

		if !hasSchema {
			continue
		}

		if errs := checkSchema(name, schema, value); len(errs) > 0 {
			problems = append(problems, errs...)
		}
	}

	if len(problems) > 0 {
		return ogcerr.New(ogcerr.KindInvalidUsage, strings.Join(problems, "; "))
	}

	return nil
}

func minOccurs(decl map[string]any) int {
	v, ok := decl["minOccurs"]

	if !ok {
		return 1
	}

	if f, isNum := v.(float64); isNum {
		return int(f)
	}

	return 1
}

func checkSchema(name string, schema map[string]any, value any) []string {
	var errs []string

	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("input %q ", name)+fmt.Sprintf(format, args...))
	}

	if declaredType, ok := schema["type"].(string); ok {
		if !matchesType(declaredType, value) {
			fail("must be of type %s", declaredType)
			return errs
		}
	}

	switch v := value.(type) {
	case float64:
		if min, ok := numberBound(schema, "minimum"); ok && v < min {
			fail("must be >= %v", min)
		}
		if max, ok := numberBound(schema, "maximum"); ok && v > max {
			fail("must be <= %v", max)
		}

	case string:
		if min, ok := numberBound(schema, "minLength"); ok && float64(len(v)) < min {
			fail("must be at least %d characters", int(min))
		}
		if max, ok := numberBound(schema, "maxLength"); ok && float64(len(v)) > max {
			fail("must be at most %d characters", int(max))
		}
		if pattern, ok := schema["pattern"].(string); ok {
			re, compileErr := regexp.Compile(pattern)

			if compileErr == nil && !re.MatchString(v) {
				fail("must match pattern %s", pattern)
			}
		}

	case []any:
		if min, ok := numberBound(schema, "minItems"); ok && float64(len(v)) < min {
			fail("must have at least %d items", int(min))
		}
		if max, ok := numberBound(schema, "maxItems"); ok && float64(len(v)) > max {
			fail("must have at most %d items", int(max))
		}
		if unique, ok := schema["uniqueItems"].(bool); ok && unique && hasDuplicates(v) {
			fail("must not contain duplicate items")
		}
	}

	if enum, ok := schema["enum"].([]any); ok && !inEnum(enum, value) {
		fail("must be one of the enumerated values")
	}

	return errs
}

func matchesType(declared string, value any) bool {
	switch declared {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == math.Trunc(f)
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

func numberBound(schema map[string]any, key string) (float64, bool) {
	f, ok := schema[key].(float64)
	return f, ok
}

func inEnum(enum []any, value any) bool {
	for _, candidate := range enum {
		if fmt.Sprintf("%v", candidate) == fmt.Sprintf("%v", value) {
			return true
		}
	}
	return false
}

func hasDuplicates(items []any) bool {
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		key := fmt.Sprintf("%v", item)

		if _, dup := seen[key]; dup {
			return true
		}

		seen[key] = struct{}{}
	}

	return false
}
