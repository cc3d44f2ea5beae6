package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is reported when the text holds no JSON candidate at all.
var ErrNoJSON = errors.New("no JSON found in response")

// ExtractionError describes why free text could not be turned into a
// Document. Strategy names the last strategy attempted.
type ExtractionError struct {
	Strategy string
	Err      error
}

func (e *ExtractionError) Error() string {
	if e.Strategy == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("JSON parse error (%s): %v", e.Strategy, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

const fence = "```"

type candidate struct {
	strategy string
	text     string
}

// ExtractJSON pulls the first well-formed JSON object out of oracle output.
// Candidates are tried in order: a ```json fence, any fence, then the widest
// {...} span. A candidate that does not parse as an object falls through to
// the next one.
func ExtractJSON(text string) (Document, error) {
	candidates := jsonCandidates(text)
	if len(candidates) == 0 {
		return nil, &ExtractionError{Err: ErrNoJSON}
	}

	var lastErr *ExtractionError
	for _, c := range candidates {
		var doc Document
		dec := json.NewDecoder(strings.NewReader(c.text))
		if err := dec.Decode(&doc); err != nil {
			lastErr = &ExtractionError{Strategy: c.strategy, Err: err}
			continue
		}
		if doc == nil {
			lastErr = &ExtractionError{Strategy: c.strategy, Err: errors.New("not a JSON object")}
			continue
		}
		return doc, nil
	}
	return nil, lastErr
}

func jsonCandidates(text string) []candidate {
	var out []candidate

	if i := indexJSONFence(text); i >= 0 {
		body := text[i+len(fence)+len("json"):]
		if end := strings.Index(body, fence); end >= 0 {
			body = body[:end]
		}
		out = append(out, candidate{strategy: "json fence", text: strings.TrimSpace(body)})
	}

	if i := strings.Index(text, fence); i >= 0 {
		body := text[i+len(fence):]
		if end := strings.Index(body, fence); end >= 0 {
			body = body[:end]
		}
		out = append(out, candidate{strategy: "fence", text: dropInfoString(body)})
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		out = append(out, candidate{strategy: "brace span", text: text[start : end+1]})
	}
	return out
}

// indexJSONFence returns the byte offset in text of the first fence tagged
// json in any letter case, or -1.
func indexJSONFence(text string) int {
	off := 0
	for {
		i := strings.Index(text[off:], fence)
		if i < 0 {
			return -1
		}
		tag := off + i + len(fence)
		if tag+len("json") <= len(text) && strings.EqualFold(text[tag:tag+len("json")], "json") {
			return off + i
		}
		off = tag
	}
}

// dropInfoString removes a fence language tag such as "yaml" or "JSON" when
// it sits alone on the opening line.
func dropInfoString(body string) string {
	nl := strings.IndexByte(body, '\n')
	if nl < 0 {
		return strings.TrimSpace(body)
	}
	first := strings.TrimSpace(body[:nl])
	if first != "" && !strings.ContainsAny(first, "{[\"") {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body)
}
