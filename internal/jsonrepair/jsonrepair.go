// Package jsonrepair coerces loosely formatted model output into JSON values.
package jsonrepair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"assesslab/internal/domain"
)

// Stage identifies which strategy succeeded.
type Stage int

const (
	StageNone Stage = iota
	StageDirect
	StageFenced
	StageExtracted
)

func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageFenced:
		return "fenced"
	case StageExtracted:
		return "extracted"
	default:
		return "none"
	}
}

var fenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)\\s*```")

// Unmarshal decodes text into v trying, in order: the raw text, the contents of a Markdown code
// fence, and the outermost {...} or [...] span. It stops at the first success.
func Unmarshal(text string, v any) (Stage, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return StageNone, fmt.Errorf("%w: empty response", domain.ErrParse)
	}

	firstErr := json.Unmarshal([]byte(trimmed), v)
	if firstErr == nil {
		return StageDirect, nil
	}

	if unfenced, ok := StripFences(trimmed); ok {
		if err := json.Unmarshal([]byte(unfenced), v); err == nil {
			return StageFenced, nil
		}
	}

	for _, candidate := range []string{span(trimmed, '{', '}'), span(trimmed, '[', ']')} {
		if candidate == "" {
			continue
		}
		if err := json.Unmarshal([]byte(candidate), v); err == nil {
			return StageExtracted, nil
		}
	}

	return StageNone, fmt.Errorf("%w: %v", domain.ErrParse, firstErr)
}

// StripFences returns the body of the first Markdown code fence.
func StripFences(text string) (string, bool) {
	m := fenceRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func span(s string, open, closing byte) string {
	start := strings.IndexByte(s, open)
	end := strings.LastIndexByte(s, closing)
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
