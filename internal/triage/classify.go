package triage

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/oracle"
	"triagebot/internal/schema"
)

const (
	failedValidationConfidence = 0.1
	maxUnknownIntentConfidence = 0.5
)

// Classifier maps an incident to an intent. It never fails: oracle errors and
// unusable answers degrade to the unknown intent with low confidence.
type Classifier struct {
	oracle   oracle.Oracle
	fallback ClassifyFallback
	log      zerolog.Logger
}

// NewClassifier returns a classifier. A nil oracle selects the fallback for
// every incident.
func NewClassifier(o oracle.Oracle, fallback ClassifyFallback, log zerolog.Logger) *Classifier {
	if fallback == nil {
		fallback = Offline{}
	}
	return &Classifier{oracle: o, fallback: fallback, log: log}
}

func (c *Classifier) Classify(ctx context.Context, inc domain.Incident) schema.Document {
	return mustDocument(c.classify(ctx, inc))
}

func (c *Classifier) classify(ctx context.Context, inc domain.Incident) domain.Classification {
	if c.oracle == nil {
		c.log.Debug().Str("incident_id", inc.ID).Msg("no classification oracle, using offline table")
		return c.fallback.Classify(inc)
	}

	completion, err := c.oracle.Complete(ctx, oracle.Request{
		System: classificationSystemPrompt(),
		Prompt: classificationPrompt(inc),
	})
	if errors.Is(err, oracle.ErrUnavailable) {
		c.log.Warn().Str("incident_id", inc.ID).Msg("classification oracle unavailable, using offline table")
		return c.fallback.Classify(inc)
	}
	if err != nil {
		c.log.Error().Err(err).Str("incident_id", inc.ID).Msg("classification oracle failed")
		return domain.Classification{
			Intent:     domain.IntentUnknown,
			Confidence: 0,
			Reasoning:  fmt.Sprintf("Classification error: %v", err),
			Error:      err.Error(),
		}
	}

	cls, err := parseClassification(completion.Text)
	if err != nil {
		c.log.Warn().Err(err).Str("incident_id", inc.ID).Msg("classification failed validation")
		return domain.Classification{
			Intent:     domain.IntentUnknown,
			Confidence: failedValidationConfidence,
			Reasoning:  fmt.Sprintf("Classification failed validation: %v", err),
		}
	}

	if !cls.Intent.Known() {
		c.log.Warn().Str("incident_id", inc.ID).Str("intent", string(cls.Intent)).Msg("intent outside taxonomy, using unknown")
		cls.Intent = domain.IntentUnknown
		cls.Confidence = min(cls.Confidence, maxUnknownIntentConfidence)
	}
	return cls
}

func parseClassification(text string) (domain.Classification, error) {
	doc, err := schema.ExtractJSON(text)
	if err != nil {
		return domain.Classification{}, err
	}
	if ok, reason := schema.Validate(doc, schema.Intent); !ok {
		return domain.Classification{}, errors.New(reason)
	}
	var cls domain.Classification
	if err := schema.Decode(doc, &cls); err != nil {
		return domain.Classification{}, err
	}
	return cls, nil
}

// mustDocument converts a typed stage result into the document the
// orchestrator validates. Stage results are plain structs, so encoding only
// fails on a programming error.
func mustDocument(v any) schema.Document {
	doc, err := schema.FromValue(v)
	if err != nil {
		panic(fmt.Sprintf("encode stage result: %v", err))
	}
	return doc
}
