package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Document is a decoded JSON object as produced by a stage.
type Document map[string]any

// Validator checks stage payloads against the compiled contracts. It holds
// no mutable state after construction and is safe for concurrent use.
type Validator struct {
	compiled map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft7

	names := make([]string, 0, len(contracts))
	for name := range contracts {
		names = append(names, name)
	}
	sort.Strings(names)

	v := &Validator{compiled: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		uri := "schema://" + name
		if err := compiler.AddResource(uri, strings.NewReader(contracts[name])); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := compiler.Compile(uri)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.compiled[name] = sch
	}
	return v, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Validate checks payload against the named contract using a shared validator.
func Validate(payload any, name string) (bool, string) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	if defaultErr != nil {
		return false, fmt.Sprintf("validation error for %s: %v", name, defaultErr)
	}
	return defaultValidator.Validate(payload, name)
}

// Validate never panics; it always returns a verdict and, on failure, a
// human-readable reason.
func (v *Validator) Validate(payload any, name string) (ok bool, reason string) {
	defer func() {
		if r := recover(); r != nil {
			ok, reason = false, fmt.Sprintf("validation error for %s: %v", name, r)
		}
	}()

	sch, found := v.compiled[name]
	if !found {
		return false, fmt.Sprintf("unknown schema: %s", name)
	}

	// The validator wants plain decoded JSON values, so normalise typed
	// payloads through a round trip.
	raw, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Sprintf("validation error for %s: %v", name, err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false, fmt.Sprintf("validation error for %s: %v", name, err)
	}

	if err := sch.Validate(decoded); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return false, fmt.Sprintf("schema validation failed for %s: %s", name, describe(verr))
		}
		return false, fmt.Sprintf("validation error for %s: %v", name, err)
	}
	return true, ""
}

// describe flattens the leaf causes of a validation error.
func describe(err *jsonschema.ValidationError) string {
	var messages []string
	collect(err, &messages)
	if len(messages) == 0 {
		return err.Error()
	}
	return strings.Join(messages, "; ")
}

func collect(err *jsonschema.ValidationError, messages *[]string) {
	if len(err.Causes) == 0 {
		msg := err.Message
		if err.InstanceLocation != "" {
			msg = fmt.Sprintf("at %s: %s", err.InstanceLocation, msg)
		}
		*messages = append(*messages, msg)
		return
	}
	for _, cause := range err.Causes {
		collect(cause, messages)
	}
}

// Decode copies a validated document into a typed value.
func Decode(doc Document, out any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// FromValue converts a typed value into a Document.
func FromValue(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return doc, nil
}
