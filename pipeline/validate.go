package pipeline

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Clickin/querygate/endpoint"
	"github.com/Clickin/querygate/errors"
)

// ApplyValidation checks the merged parameters against an endpoint's
// validation spec and returns the converted parameter map. Every failure
// is collected; the caller gets one Validation error naming all of them.
// Parameters not declared in the spec pass through unchanged. A nil spec
// passes everything through. origins records where each parameter came
// from; a nil map disables source-hint enforcement.
func ApplyValidation(spec *endpoint.ValidationSpec, params map[string]any, origins map[string]string) (map[string]any, error) {
	result := make(map[string]any, len(params))
	for k, v := range params {
		result[k] = v
	}
	if spec == nil {
		return result, nil
	}

	var fieldErrors []string

	for _, p := range spec.Required {
		raw, present := result[p.Name]
		if !present || isBlank(raw) {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: required parameter is missing", p.Name))
			continue
		}
		if err := checkSource(p, origins); err != nil {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		converted, err := convertParameter(raw, p)
		if err != nil {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		result[p.Name] = converted
	}

	for _, p := range spec.Optional {
		raw, present := result[p.Name]
		if !present || isBlank(raw) {
			delete(result, p.Name)
			if p.Default != nil {
				result[p.Name] = p.Default
			}
			continue
		}
		if err := checkSource(p, origins); err != nil {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		converted, err := convertParameter(raw, p)
		if err != nil {
			fieldErrors = append(fieldErrors, fmt.Sprintf("%s: %v", p.Name, err))
			continue
		}
		result[p.Name] = converted
	}

	if len(fieldErrors) > 0 {
		return nil, errors.NewValidation(fieldErrors)
	}
	return result, nil
}

// checkSource enforces a parameter's source hint against the recorded
// merge origin. Parameters without a hint accept any origin.
func checkSource(p endpoint.ParameterSpec, origins map[string]string) error {
	if p.Source == "" || origins == nil {
		return nil
	}
	origin, ok := origins[p.Name]
	if !ok {
		return nil
	}
	if !strings.EqualFold(origin, p.Source) {
		return fmt.Errorf("must be supplied in the %s", strings.ToLower(p.Source))
	}
	return nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// convertParameter applies the type tag's conversion plus its constraints.
// The tag set is fixed; an unknown tag is a configuration mistake reported
// as a conversion failure so it surfaces during endpoint testing.
func convertParameter(raw any, spec endpoint.ParameterSpec) (any, error) {
	switch spec.Type {
	case "string":
		return convertString(raw, spec)
	case "integer", "long":
		return convertInteger(raw, spec)
	case "number", "double", "float":
		return convertNumber(raw, spec)
	case "boolean":
		return convertBoolean(raw)
	case "date":
		return convertTimestamp(raw, spec, "2006-01-02")
	case "datetime":
		return convertTimestamp(raw, spec, "2006-01-02T15:04:05")
	case "array":
		return convertArray(raw, spec)
	default:
		return nil, fmt.Errorf("unsupported parameter type %q", spec.Type)
	}
}

func convertString(raw any, spec endpoint.ParameterSpec) (any, error) {
	s, ok := raw.(string)
	if !ok {
		s = fmt.Sprintf("%v", raw)
	}

	if spec.MinLength != nil && len(s) < *spec.MinLength {
		return nil, fmt.Errorf("must be at least %d characters", *spec.MinLength)
	}
	if spec.MaxLength != nil && len(s) > *spec.MaxLength {
		return nil, fmt.Errorf("must be at most %d characters", *spec.MaxLength)
	}
	if spec.Pattern != "" {
		re, err := regexp.Compile("^(?:" + spec.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid pattern constraint")
		}
		if !re.MatchString(s) {
			return nil, fmt.Errorf("does not match required pattern")
		}
	}
	if err := checkAllowedValues(s, spec); err != nil {
		return nil, err
	}
	return s, nil
}

func convertInteger(raw any, spec endpoint.ParameterSpec) (any, error) {
	var n int64
	switch v := raw.(type) {
	case int:
		n = int64(v)
	case int64:
		n = v
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("must be an integer")
		}
		n = int64(v)
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("must be an integer")
		}
		n = parsed
	default:
		return nil, fmt.Errorf("must be an integer")
	}

	if spec.Min != nil && float64(n) < *spec.Min {
		return nil, fmt.Errorf("must be at least %v", formatNumber(*spec.Min))
	}
	if spec.Max != nil && float64(n) > *spec.Max {
		return nil, fmt.Errorf("must be at most %v", formatNumber(*spec.Max))
	}
	if err := checkAllowedValues(strconv.FormatInt(n, 10), spec); err != nil {
		return nil, err
	}
	return n, nil
}

func convertNumber(raw any, spec endpoint.ParameterSpec) (any, error) {
	var f float64
	switch v := raw.(type) {
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case float64:
		f = v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("must be a number")
		}
		f = parsed
	default:
		return nil, fmt.Errorf("must be a number")
	}

	if spec.Min != nil && f < *spec.Min {
		return nil, fmt.Errorf("must be at least %v", formatNumber(*spec.Min))
	}
	if spec.Max != nil && f > *spec.Max {
		return nil, fmt.Errorf("must be at most %v", formatNumber(*spec.Max))
	}
	if err := checkAllowedValues(formatNumber(f), spec); err != nil {
		return nil, err
	}
	return f, nil
}

func convertBoolean(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case int:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case int64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case float64:
		if v == 0 || v == 1 {
			return v == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true, nil
		case "false", "0", "no", "off":
			return false, nil
		}
	}
	return nil, fmt.Errorf("must be a boolean")
}

func convertTimestamp(raw any, spec endpoint.ParameterSpec, defaultLayout string) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("must be a %s string", timestampKind(defaultLayout))
	}

	layout := defaultLayout
	if spec.Format != "" {
		layout = spec.Format
	}

	s = strings.TrimSpace(s)
	if _, err := time.Parse(layout, s); err != nil {
		// Datetime clients commonly send a zone suffix; accept RFC 3339
		// when the unzoned layout is in effect.
		if layout == "2006-01-02T15:04:05" {
			if _, rfcErr := time.Parse(time.RFC3339, s); rfcErr == nil {
				return s, nil
			}
		}
		return nil, fmt.Errorf("must match %s format", timestampKind(defaultLayout))
	}
	return s, nil
}

func timestampKind(layout string) string {
	if layout == "2006-01-02" {
		return "date"
	}
	return "datetime"
}

func convertArray(raw any, spec endpoint.ParameterSpec) (any, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case string:
		for _, part := range strings.Split(v, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	default:
		items = []any{v}
	}

	if spec.MinItems != nil && len(items) < *spec.MinItems {
		return nil, fmt.Errorf("must have at least %d items", *spec.MinItems)
	}
	if spec.MaxItems != nil && len(items) > *spec.MaxItems {
		return nil, fmt.Errorf("must have at most %d items", *spec.MaxItems)
	}
	return items, nil
}

func checkAllowedValues(s string, spec endpoint.ParameterSpec) error {
	if len(spec.AllowedValues) == 0 {
		return nil
	}
	for _, allowed := range spec.AllowedValues {
		if s == allowed {
			return nil
		}
	}
	return fmt.Errorf("must be one of [%s]", strings.Join(spec.AllowedValues, ", "))
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
