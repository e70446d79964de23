package screening

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

var (
	fenceOpen    = regexp.MustCompile("^```(?:json)?\\s*")
	fenceClose   = regexp.MustCompile("\\s*```$")
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F]`)
)

// strategy recovers a JSON object from oracle text or reports why it could not.
type strategy struct {
	name string
	run  func(text string) (map[string]any, error)
}

// Extractor recovers a structured object from raw oracle output by trying a chain of
// increasingly lenient strategies.
type Extractor struct {
	strategies []strategy
}

// NewExtractor returns the default chain. With repair enabled a last strategy runs a JSON
// repair pass over the brace-delimited span.
func NewExtractor(repair bool) *Extractor {
	e := &Extractor{strategies: []strategy{
		{name: "direct", run: parseDirect},
		{name: "fenced", run: parseFenced},
		{name: "brace_span", run: parseBraceSpan},
	}}
	if repair {
		e.strategies = append(e.strategies, strategy{name: "repair", run: parseRepaired})
	}
	return e
}

// Extract runs the default chain without repair.
func Extract(raw string) (map[string]any, error) {
	return NewExtractor(false).Extract(raw)
}

// Extract returns the first object any strategy recovers, or ErrMalformedOutput.
func (e *Extractor) Extract(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	var lastErr error
	for _, s := range e.strategies {
		obj, err := s.run(text)
		if err == nil {
			return obj, nil
		}
		lastErr = fmt.Errorf("%s: %w", s.name, err)
	}

	return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, lastErr)
}

func parseDirect(text string) (map[string]any, error) {
	return decodeObject(text)
}

func parseFenced(text string) (map[string]any, error) {
	return decodeObject(stripFences(text))
}

func parseBraceSpan(text string) (map[string]any, error) {
	span, ok := braceSpan(stripFences(text))
	if !ok {
		return nil, fmt.Errorf("no JSON object found")
	}
	return decodeObject(span)
}

func parseRepaired(text string) (map[string]any, error) {
	span, ok := braceSpan(stripFences(text))
	if !ok {
		return nil, fmt.Errorf("no JSON object found")
	}
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return nil, fmt.Errorf("repair json: %w", err)
	}
	return decodeObject(repaired)
}

func stripFences(text string) string {
	text = fenceOpen.ReplaceAllString(text, "")
	return fenceClose.ReplaceAllString(text, "")
}

// braceSpan returns the text from the first '{' to the last '}' with control characters
// removed.
func braceSpan(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return controlChars.ReplaceAllString(text[start:end+1], ""), true
}

func decodeObject(text string) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("not a JSON object")
	}
	return obj, nil
}
