package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the oracle provider name.
	FieldProvider = "oracle_provider"
	// FieldModel is the structured log field key for the oracle model identifier.
	FieldModel = "oracle_model"
	// FieldCandidate identifies the candidate a log entry refers to.
	FieldCandidate = "candidate_id"
	// FieldRun is the run label.
	FieldRun = "run"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches fields to the logger, falling back to a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// OracleFields returns the fields describing which oracle served a request.
func OracleFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithOracle attaches the oracle provider and model to the logger.
func WithOracle(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, OracleFields(provider, model)...)
}

// WithRun attaches the run label and the oracle model to the logger.
func WithRun(logger *zap.Logger, run, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldRun, Value: run},
		StringField{Key: FieldModel, Value: model},
	)...)
}
