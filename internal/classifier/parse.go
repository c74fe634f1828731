package classifier

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"strings"

	"github.com/dwsmith1983/runwarden/pkg/types"
)

type reply struct {
	Category   *string  `json:"category"`
	Confidence *float64 `json:"confidence"`
	Summary    *string  `json:"summary"`
}

// ParseVerdict strictly parses an inference reply. The reply must be exactly
// one JSON object, optionally wrapped in a single ``` fence, with a category
// from the closed set, a confidence in [0,1] and a non-empty summary.
// Anything else is a *types.ParseError.
func ParseVerdict(text string) (types.Verdict, error) {
	body, err := unfence(strings.TrimSpace(text))
	if err != nil {
		return types.Verdict{}, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()
	var r reply
	if err := dec.Decode(&r); err != nil {
		return types.Verdict{}, parseErr(text, "invalid JSON object: "+err.Error())
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return types.Verdict{}, parseErr(text, "trailing content after JSON object")
	}

	if r.Category == nil || r.Confidence == nil || r.Summary == nil {
		return types.Verdict{}, parseErr(text, "missing category, confidence or summary")
	}
	category, ok := types.ParseCategory(*r.Category)
	if !ok {
		return types.Verdict{}, parseErr(text, "category outside the closed set")
	}
	conf := *r.Confidence
	if math.IsNaN(conf) || conf < 0 || conf > 1 {
		return types.Verdict{}, parseErr(text, "confidence outside [0,1]")
	}
	summary := strings.TrimSpace(*r.Summary)
	if summary == "" {
		return types.Verdict{}, parseErr(text, "empty summary")
	}

	return types.Verdict{
		Category:   category,
		Confidence: conf,
		FixSummary: summary,
	}, nil
}

func unfence(s string) (string, error) {
	const fence = "```"
	if !strings.HasPrefix(s, fence) {
		if strings.Contains(s, fence) {
			return "", parseErr(s, "unexpected code fence")
		}
		return s, nil
	}
	if !strings.HasSuffix(s, fence) || len(s) < 2*len(fence) {
		return "", parseErr(s, "unterminated code fence")
	}
	inner := s[len(fence) : len(s)-len(fence)]
	nl := strings.IndexByte(inner, '\n')
	if nl < 0 {
		return "", parseErr(s, "code fence without body")
	}
	if lang := strings.TrimSpace(inner[:nl]); lang != "" && lang != "json" {
		return "", parseErr(s, "code fence language "+lang)
	}
	inner = inner[nl+1:]
	if strings.Contains(inner, fence) {
		return "", parseErr(s, "more than one code fence")
	}
	if !strings.HasPrefix(strings.TrimSpace(inner), "{") {
		return "", parseErr(s, "fenced body is not an object")
	}
	return inner, nil
}

func parseErr(input, reason string) *types.ParseError {
	return &types.ParseError{Input: input, Reason: reason}
}
