package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triagebot/internal/domain"
	"triagebot/internal/metrics"
	"triagebot/internal/oracle"
	"triagebot/internal/policy"
	"triagebot/internal/schema"
)

// ErrCanceled is returned by Process when the run's context ends before a
// disposition is reached. Nothing is archived for a canceled run.
var ErrCanceled = errors.New("pipeline run canceled")

// State is a step of the run state machine.
type State string

const (
	StateStart        State = "start"
	StateClassified   State = "classified"
	StateInvestigated State = "investigated"
	StateActed        State = "acted"
	StateDecided      State = "decided"
	StateDone         State = "done"
	StateAborted      State = "aborted"
)

// Run outcomes reported to metrics.
const (
	runCompleted = "completed"
	runAborted   = "aborted"
	runFailed    = "failed"
	runCanceled  = "canceled"
)

// Archiver stores one RCA record and returns where it was written. Writes
// are all-or-nothing.
type Archiver interface {
	ArchiveRCA(ctx context.Context, rca domain.RCA) (string, error)
}

// Degraded supplies the offline answer for every stage.
type Degraded interface {
	ClassifyFallback
	InvestigateFallback
	ActFallback
}

// Config wires a Pipeline. Oracle, Tools and Archive may be nil; Engine is
// required.
type Config struct {
	Oracle   oracle.Oracle
	Tools    oracle.Toolset
	Degraded Degraded
	Engine   *policy.Engine
	Archive  Archiver
	Logger   zerolog.Logger

	// Now and NewRunID default to time.Now and uuid.NewString.
	Now      func() time.Time
	NewRunID func() string
}

// Pipeline runs one incident at a time through classify, investigate, act
// and decide. A Pipeline holds no per-run state and is safe for concurrent
// use.
type Pipeline struct {
	classifier   *Classifier
	investigator *Investigator
	actor        *Actor
	engine       *policy.Engine
	archive      Archiver
	log          zerolog.Logger
	now          func() time.Time
	newRunID     func() string
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("triage: policy engine is required")
	}
	degraded := cfg.Degraded
	if degraded == nil {
		degraded = Offline{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newRunID := cfg.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}
	return &Pipeline{
		classifier:   NewClassifier(cfg.Oracle, degraded, cfg.Logger),
		investigator: NewInvestigator(cfg.Oracle, cfg.Tools, degraded, cfg.Logger),
		actor:        NewActor(cfg.Oracle, cfg.Tools, degraded, cfg.Logger),
		engine:       cfg.Engine,
		archive:      cfg.Archive,
		log:          cfg.Logger,
		now:          now,
		newRunID:     newRunID,
	}, nil
}

// run is the state of one Process call.
type run struct {
	id      string
	started time.Time
	inc     domain.Incident
	state   State
	log     zerolog.Logger

	cls *domain.Classification
	inv *domain.Investigation
	act *domain.ActionResult
}

func (r *run) advance(next State) {
	r.log.Debug().Str("from", string(r.state)).Str("to", string(next)).Msg("run state")
	r.state = next
}

// Process always yields exactly one disposition and archives exactly one RCA,
// unless ctx is canceled first, in which case it returns ErrCanceled and
// writes nothing. Validation failures and panics end the run in
// human_review.
func (p *Pipeline) Process(ctx context.Context, inc domain.Incident) (disp domain.Disposition, err error) {
	r := &run{
		id:      p.newRunID(),
		started: p.now(),
		inc:     inc,
		state:   StateStart,
	}
	r.log = p.log.With().Str("incident_id", inc.ID).Str("run_id", r.id).Logger()
	r.log.Info().Str("short_description", inc.ShortDescription).Msg("processing incident")

	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("%v", rec)
			r.log.Error().Str("state", string(r.state)).Str("error", msg).Msg("pipeline run failed")
			disp = p.abort(ctx, r, fmt.Sprintf("Processing error: %s", msg), msg, runFailed)
			err = nil
		}
	}()

	if err := r.checkCanceled(ctx); err != nil {
		return domain.Disposition{}, err
	}

	metrics.RecordStage("classification")
	clsDoc := p.classifier.Classify(ctx, inc)
	if err := r.checkCanceled(ctx); err != nil {
		return domain.Disposition{}, err
	}
	var cls domain.Classification
	if reason, ok := gate(clsDoc, schema.Intent, &cls); !ok {
		r.log.Warn().Str("reason", reason).Msg("intent validation failed")
		return p.abort(ctx, r, "Intent validation failed: "+reason, reason, runAborted), nil
	}
	r.cls = &cls
	r.advance(StateClassified)
	metrics.RecordClassification(string(cls.Intent), cls.Confidence)
	r.log.Info().Str("intent", string(cls.Intent)).Float64("confidence", cls.Confidence).Msg("classified")

	metrics.RecordStage("investigation")
	invDoc := p.investigator.Investigate(ctx, cls, inc)
	if err := r.checkCanceled(ctx); err != nil {
		return domain.Disposition{}, err
	}
	var inv domain.Investigation
	if reason, ok := gate(invDoc, schema.Investigation, &inv); !ok {
		r.log.Warn().Str("reason", reason).Msg("investigation validation failed")
		r.inv = partial[domain.Investigation](invDoc)
		return p.abort(ctx, r, "Investigation validation failed: "+reason, reason, runAborted), nil
	}
	r.inv = &inv
	r.advance(StateInvestigated)
	r.log.Info().Str("root_cause", inv.RootCause).Int("findings", len(inv.Findings)).Float64("evidence_score", inv.EvidenceScore).Msg("investigated")

	metrics.RecordStage("action")
	actDoc := p.actor.Act(ctx, inv, inc)
	if err := r.checkCanceled(ctx); err != nil {
		return domain.Disposition{}, err
	}
	var act domain.ActionResult
	if reason, ok := gate(actDoc, schema.Action, &act); !ok {
		r.log.Warn().Str("reason", reason).Msg("action validation failed")
		r.act = partial[domain.ActionResult](actDoc)
		return p.abort(ctx, r, "Action validation failed: "+reason, reason, runAborted), nil
	}
	r.act = &act
	r.advance(StateActed)
	r.log.Info().Str("action", act.Action).Bool("success", act.Success).Msg("acted")

	decision := p.engine.Decide(cls, inv, act)
	r.advance(StateDecided)
	metrics.RecordDecision(string(decision.Decision), decision.OverrideType)
	r.log.Info().Str("decision", string(decision.Decision)).Float64("score", decision.Score).Bool("override", decision.OverrideApplied).Msg("decided")

	if err := r.checkCanceled(ctx); err != nil {
		return domain.Disposition{}, err
	}

	elapsed := p.now().Sub(r.started)
	rca := BuildRCA(inc, r.cls, r.inv, r.act, decision)
	rca.Status = domain.StatusCompleted
	location := p.store(ctx, r, rca, elapsed)

	actions := []domain.ActionResult{}
	if act.Attempted() {
		actions = append(actions, act)
	}
	disp = domain.Disposition{
		IncidentID:       inc.ID,
		RunID:            r.id,
		Intent:           cls.Intent,
		Confidence:       cls.Confidence,
		Decision:         decision.Decision,
		Score:            decision.Score,
		Reasoning:        decision.Reasoning,
		OverrideApplied:  decision.OverrideApplied,
		RCALocation:      location,
		ActionsTaken:     actions,
		ProcessingTimeMS: elapsed.Milliseconds(),
	}
	if reason, ok := validateDisposition(disp); !ok {
		r.log.Warn().Str("reason", reason).Msg("disposition validation failed")
		disp.ValidationWarning = reason
	}

	r.advance(StateDone)
	metrics.RecordRun(runCompleted, elapsed)
	r.log.Info().Str("decision", string(disp.Decision)).Int64("processing_time_ms", disp.ProcessingTimeMS).Msg("incident processed")
	return disp, nil
}

// abort ends the run in human_review and archives what exists so far.
func (p *Pipeline) abort(ctx context.Context, r *run, reasoning, errMsg, status string) domain.Disposition {
	r.advance(StateAborted)
	elapsed := p.now().Sub(r.started)

	decision := domain.PolicyDecision{
		Decision:  domain.DecisionHumanReview,
		Score:     0,
		Reasoning: reasoning,
	}
	rca := BuildRCA(r.inc, r.cls, r.inv, r.act, decision)
	rca.Status = domain.StatusAborted
	rca.AbortReason = reasoning

	location := ""
	if ctx.Err() == nil {
		location = p.store(ctx, r, rca, elapsed)
	}

	intent := domain.IntentUnknown
	if r.cls != nil {
		intent = r.cls.Intent
	}
	disp := domain.Disposition{
		IncidentID:       r.inc.ID,
		RunID:            r.id,
		Intent:           intent,
		Confidence:       0,
		Decision:         domain.DecisionHumanReview,
		Score:            0,
		Reasoning:        reasoning,
		RCALocation:      location,
		ActionsTaken:     []domain.ActionResult{},
		ProcessingTimeMS: elapsed.Milliseconds(),
		Error:            errMsg,
		PartialResults: &domain.PartialResults{
			Classification: r.cls,
			Investigation:  r.inv,
			Action:         r.act,
		},
	}
	metrics.RecordDecision(string(domain.DecisionHumanReview), "")
	metrics.RecordRun(status, elapsed)
	return disp
}

// store archives the RCA. Failures are logged and leave the location empty.
func (p *Pipeline) store(ctx context.Context, r *run, rca domain.RCA, elapsed time.Duration) string {
	if p.archive == nil {
		r.log.Warn().Msg("no RCA archive configured, skipping storage")
		return ""
	}
	rca.RunID = r.id
	rca.StartedAt = r.started.UTC()
	rca.ProcessingTimeMS = elapsed.Milliseconds()

	location, err := p.archive.ArchiveRCA(context.WithoutCancel(ctx), rca)
	if err != nil {
		r.log.Error().Err(err).Msg("store RCA failed")
		return ""
	}
	r.log.Info().Str("rca_location", location).Msg("RCA stored")
	return location
}

func (r *run) checkCanceled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		r.log.Warn().Str("state", string(r.state)).Err(err).Msg("run canceled")
		metrics.RecordRun(runCanceled, 0)
		return fmt.Errorf("%w in state %s: %w", ErrCanceled, r.state, err)
	}
	return nil
}

// gate validates a stage document and decodes it into out.
func gate(doc schema.Document, contract string, out any) (string, bool) {
	if ok, reason := schema.Validate(doc, contract); !ok {
		metrics.RecordSchemaFailure(contract)
		return reason, false
	}
	if err := schema.Decode(doc, out); err != nil {
		metrics.RecordSchemaFailure(contract)
		return err.Error(), false
	}
	return "", true
}

// partial decodes whatever fields of an invalid document still fit T, for
// the audit trail.
func partial[T any](doc schema.Document) *T {
	var out T
	if err := schema.Decode(doc, &out); err != nil {
		return nil
	}
	return &out
}

func validateDisposition(disp domain.Disposition) (string, bool) {
	ok, reason := schema.Validate(disp, schema.Disposition)
	if !ok {
		metrics.RecordSchemaFailure(schema.Disposition)
	}
	return reason, ok
}
