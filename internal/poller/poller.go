// Package poller pulls new incidents from the ticketing system on a cron
// schedule and runs each one through the triage pipeline.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"triagebot/internal/domain"
	"triagebot/internal/metrics"
	"triagebot/internal/storage/sqlite"
)

// Source is the ticketing system.
type Source interface {
	FetchNewIncidents(ctx context.Context, limit int, lookback time.Duration) ([]domain.Incident, error)
	MarkInProgress(ctx context.Context, sysID string) error
	ApplyDisposition(ctx context.Context, disp domain.Disposition) error
}

// Ledger remembers which incidents have already been handled.
type Ledger interface {
	IsProcessed(ctx context.Context, incidentID string) (bool, error)
	MarkProcessed(ctx context.Context, p sqlite.ProcessedIncident) error
}

type Processor interface {
	Process(ctx context.Context, inc domain.Incident) (domain.Disposition, error)
}

type Notifier interface {
	Notify(ctx context.Context, inc domain.Incident, disp domain.Disposition) error
}

type Options struct {
	Schedule      string
	Limit         int
	Lookback      time.Duration
	MaxConcurrent int
}

type Poller struct {
	sched    cron.Schedule
	schedule string
	opts     Options
	source   Source
	ledger   Ledger
	pipeline Processor
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// ParseSchedule parses a standard 5-field cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("invalid poll_schedule '%s': %w", expr, err)
	}
	return sched, nil
}

// New returns a poller. notifier may be nil.
func New(opts Options, source Source, ledger Ledger, pipeline Processor, notifier Notifier, log zerolog.Logger) (*Poller, error) {
	if source == nil || ledger == nil || pipeline == nil {
		return nil, errors.New("poller: source, ledger and pipeline are required")
	}
	sched, err := ParseSchedule(opts.Schedule)
	if err != nil {
		return nil, err
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 10
	}
	return &Poller{
		sched:    sched,
		schedule: opts.Schedule,
		opts:     opts,
		source:   source,
		ledger:   ledger,
		pipeline: pipeline,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}, nil
}

// Run polls on every schedule tick until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Str("schedule", p.schedule).Int("limit", p.opts.Limit).Int("max_concurrent", p.opts.MaxConcurrent).Msg("poller started")
	for {
		now := p.now()
		next := p.sched.Next(now)
		wait := next.Sub(now)
		p.log.Info().Time("next", next).Str("in", wait.Round(time.Second).String()).Msg("next poll scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.log.Info().Msg("poller stopped")
			return ctx.Err()
		case <-timer.C:
		}

		sum := p.Tick(ctx)
		p.log.Info().
			Int("fetched", sum.Fetched).
			Int("skipped", sum.Skipped).
			Int("processed", sum.Processed).
			Int("failed", sum.Failed).
			Msg("poll complete")
	}
}

// Summary counts what one tick did.
type Summary struct {
	Fetched   int
	Skipped   int
	Processed int
	Failed    int
	Decisions map[domain.Decision]int
}

// Tick runs one poll: fetch, skip handled incidents, then process the rest
// concurrently. A failing incident never stops the others.
func (p *Poller) Tick(ctx context.Context) Summary {
	sum := Summary{Decisions: map[domain.Decision]int{}}

	incidents, err := p.source.FetchNewIncidents(ctx, p.opts.Limit, p.opts.Lookback)
	if err != nil {
		p.log.Error().Err(err).Msg("fetch new incidents failed")
		return sum
	}
	sum.Fetched = len(incidents)
	metrics.RecordPoll("fetched", sum.Fetched)

	var pending []domain.Incident
	for _, inc := range incidents {
		done, err := p.ledger.IsProcessed(ctx, inc.ID)
		if err != nil {
			p.log.Error().Err(err).Str("incident_id", inc.ID).Msg("ledger lookup failed")
			sum.Failed++
			continue
		}
		if done {
			sum.Skipped++
			continue
		}
		pending = append(pending, inc)
	}
	metrics.RecordPoll("skipped", sum.Skipped)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxConcurrent)
	for _, inc := range pending {
		g.Go(func() error {
			disp, err := p.handle(gctx, inc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				sum.Failed++
				p.log.Error().Err(err).Str("incident_id", inc.ID).Msg("incident processing failed")
				return nil
			}
			sum.Processed++
			sum.Decisions[disp.Decision]++
			return nil
		})
	}
	_ = g.Wait()

	metrics.RecordPoll("processed", sum.Processed)
	metrics.RecordPoll("failed", sum.Failed)
	return sum
}

// handle runs one incident end to end. Ticket and notification failures are
// logged; only a canceled pipeline run is an error, and it leaves the ledger
// untouched so the incident is picked up again.
func (p *Poller) handle(ctx context.Context, inc domain.Incident) (domain.Disposition, error) {
	log := p.log.With().Str("incident_id", inc.ID).Str("number", inc.Number).Logger()

	if err := p.source.MarkInProgress(ctx, inc.ID); err != nil {
		log.Error().Err(err).Msg("mark in progress failed")
	}

	disp, err := p.pipeline.Process(ctx, inc)
	if err != nil {
		return domain.Disposition{}, err
	}

	// Reporting outlives cancellation once a disposition exists.
	reportCtx := context.WithoutCancel(ctx)

	if err := p.source.ApplyDisposition(reportCtx, disp); err != nil {
		log.Error().Err(err).Msg("ticket update failed")
	}
	if p.notifier != nil {
		if err := p.notifier.Notify(reportCtx, inc, disp); err != nil {
			log.Error().Err(err).Msg("notification failed")
		}
	}
	if err := p.ledger.MarkProcessed(reportCtx, sqlite.ProcessedIncident{
		IncidentID:  inc.ID,
		Number:      inc.Number,
		RunID:       disp.RunID,
		Decision:    string(disp.Decision),
		RCALocation: disp.RCALocation,
	}); err != nil {
		log.Error().Err(err).Msg("ledger update failed")
	}

	log.Info().Str("decision", string(disp.Decision)).Float64("score", disp.Score).Msg("incident processed")
	return disp, nil
}
