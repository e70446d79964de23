package screening

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// notblank rejects whitespace-only strings.
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

var requiredVerdictFields = []string{"fit_score", "invite", "reason"}

// DecodeVerdict turns an extracted object into a validated CandidateVerdict. List fields are
// normalized first; anything still off fails with ErrInvalidVerdict.
func DecodeVerdict(obj map[string]any) (CandidateVerdict, error) {
	var verdict CandidateVerdict
	if obj == nil {
		return verdict, fmt.Errorf("%w: no object", ErrInvalidVerdict)
	}

	for _, key := range requiredVerdictFields {
		if value, ok := obj[key]; !ok || value == nil {
			return verdict, fmt.Errorf("%w: missing field %q", ErrInvalidVerdict, key)
		}
	}

	fields := make(map[string]any, len(obj))
	for k, v := range obj {
		fields[k] = v
	}
	fields["strengths"] = NormalizeListField(obj["strengths"], ListArity)
	fields["gaps"] = NormalizeListField(obj["gaps"], ListArity)
	fields["invite"] = normalizeDecision(obj["invite"])
	if id, ok := fields["cv_id"]; ok && id == nil {
		delete(fields, "cv_id")
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: strictVerdictHook,
		Result:     &verdict,
	})
	if err != nil {
		return verdict, fmt.Errorf("create decoder: %w", err)
	}
	if err := decoder.Decode(fields); err != nil {
		return CandidateVerdict{}, fmt.Errorf("%w: %w", ErrInvalidVerdict, err)
	}

	verdict.Reason = strings.TrimSpace(verdict.Reason)
	if err := validate.Struct(verdict); err != nil {
		return CandidateVerdict{}, fmt.Errorf("%w: %w", ErrInvalidVerdict, err)
	}

	return verdict, nil
}

// normalizeDecision maps booleans and loosely cased strings onto yes/no. Anything else is
// passed through for validation to reject.
func normalizeDecision(value any) any {
	switch v := value.(type) {
	case bool:
		if v {
			return string(Invite)
		}
		return string(Reject)
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	}
	return value
}

// strictVerdictHook keeps decoding strict: a score is a number or a non-blank numeric string,
// and string fields only take strings.
func strictVerdictHook(from, to reflect.Type, data any) (any, error) {
	switch to.Kind() {
	case reflect.Float32, reflect.Float64:
		switch v := data.(type) {
		case json.Number:
			return parseScore(string(v))
		case string:
			return parseScore(v)
		}
		switch from.Kind() {
		case reflect.Float32, reflect.Float64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return data, nil
		}
		return nil, fmt.Errorf("expected a number, got %T", data)
	case reflect.String:
		if from.Kind() != reflect.String {
			return nil, fmt.Errorf("expected a string, got %T", data)
		}
	}
	return data, nil
}

func parseScore(raw string) (float64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("blank score")
	}
	score, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("score %q is not a number", raw)
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("score %q is not finite", raw)
	}
	return score, nil
}
