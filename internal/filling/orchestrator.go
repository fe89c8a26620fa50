package filling

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/form-filler/internal/logger"
	"github.com/spigell/form-filler/internal/matching"
)

const (
	StageFields    = "fields"
	StageDropdowns = "dropdowns"
)

// LabelMatcher picks the label that best describes a concept.
type LabelMatcher interface {
	FindBestMatch(ctx context.Context, concept string, candidates []matching.Candidate, claims *matching.Claims) (matching.Match, error)
}

// Orchestrator drives one fill run over the form: direct fields first, then
// dropdowns, each concept in declared order. Labels are claimed greedily; an
// earlier concept keeps its label even if a later one would match it better.
type Orchestrator struct {
	form    Form
	matcher LabelMatcher
	filler  *Filler
	logger  *zap.Logger
	now     func() time.Time
}

func NewOrchestrator(form Form, matcher LabelMatcher, filler *Filler, log *zap.Logger) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}

	return &Orchestrator{
		form:    form,
		matcher: matcher,
		filler:  filler,
		logger:  log,
		now:     time.Now,
	}
}

// Run fills both mappings and returns the report. Per-concept problems never
// stop the run; a done ctx stops it before the next concept.
func (o *Orchestrator) Run(ctx context.Context, fields, dropdowns []Entry) *Report {
	report := &Report{StartedAt: o.now().UTC()}
	claims := matching.NewClaims()

	stages := []struct {
		name    string
		mode    Mode
		entries []Entry
	}{
		{name: StageFields, mode: ModeDirect, entries: fields},
		{name: StageDropdowns, mode: ModeTypeAndConfirm, entries: dropdowns},
	}

	for _, stage := range stages {
		if ctx.Err() != nil {
			break
		}

		result := o.runStage(ctx, stage.name, stage.mode, stage.entries, claims, report)
		report.Stages = append(report.Stages, result)

		o.logger.Info("fill stage",
			zap.String("name", result.Name),
			zap.Int("total", result.Total),
			zap.Int("filled", result.Filled),
			zap.Int("skipped", result.Skipped),
			zap.Int("weak", result.Weak),
			zap.Int("failed", result.Failed),
		)
	}

	if err := ctx.Err(); err != nil {
		report.Interrupted = true
		o.logger.Warn("fill run interrupted", zap.Error(err))
	}

	report.Claimed = claims.Labels()
	report.FinishedAt = o.now().UTC()
	return report
}

func (o *Orchestrator) runStage(ctx context.Context, name string, mode Mode, entries []Entry, claims *matching.Claims, report *Report) StageResult {
	result := StageResult{Name: name, Mode: mode, Total: len(entries)}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		outcome := o.FillEntry(ctx, entry, mode, claims)
		o.logOutcome(outcome)
		result.count(outcome.Status)
		report.Outcomes = append(report.Outcomes, outcome)
	}

	return result
}

// FillEntry matches one concept against the labels currently on the form and
// fills the best one.
func (o *Orchestrator) FillEntry(ctx context.Context, entry Entry, mode Mode, claims *matching.Claims) Outcome {
	candidates, err := o.form.Labels(ctx)
	if err != nil {
		return Outcome{Concept: entry.Concept, Mode: mode}.failed("list labels", err)
	}

	match, err := o.matcher.FindBestMatch(ctx, entry.Concept, candidates, claims)
	if err != nil {
		return Outcome{Concept: entry.Concept, Mode: mode}.failed("match labels", err)
	}

	if !match.Accepted {
		outcome := outcomeFor(entry.Concept, mode, match)
		outcome.Status = StatusWeakMatch
		switch {
		case matching.Normalize(entry.Concept) == "":
			outcome.Reason = "concept has no matchable text"
		case !match.HasCandidate():
			outcome.Reason = "no unclaimed labels on the form"
		default:
			outcome.Reason = fmt.Sprintf("closest label scored %.2f", match.Score)
		}
		return outcome
	}

	return o.filler.Fill(ctx, match, entry.Value, mode, claims)
}

// Upload attaches every file after the fields are filled. Failures are
// recorded and logged, the remaining attachments are still tried.
func (o *Orchestrator) Upload(ctx context.Context, uploader Uploader, attachments []Attachment, report *Report) {
	for _, a := range attachments {
		result := AttachmentResult{Name: a.Name, InputID: a.InputID, Path: a.Path}

		if err := uploader.Upload(ctx, a.InputID, a.Path); err != nil {
			result.Err = err.Error()
			o.logger.Warn("attachment upload failed",
				zap.String("attachment", a.Name),
				zap.String("input_id", a.InputID),
				zap.Error(err),
			)
		} else {
			result.Uploaded = true
			o.logger.Info("attachment uploaded",
				zap.String("attachment", a.Name),
				zap.String("input_id", a.InputID),
			)
		}

		report.Attachments = append(report.Attachments, result)
	}
}

func (o *Orchestrator) logOutcome(outcome Outcome) {
	fields := logger.ConceptFields(outcome.Concept, outcome.Label)
	fields = append(fields, zap.Stringer("mode", outcome.Mode))

	switch outcome.Status {
	case StatusFilled:
		o.logger.Info("filled", append(fields, zap.Float64("score", outcome.Score))...)
	case StatusAlreadyFilled:
		o.logger.Info("skipped, already filled", fields...)
	case StatusWeakMatch:
		o.logger.Warn("weak match, left unfilled",
			append(fields, zap.Float64("score", outcome.Score), zap.String("reason", outcome.Reason))...,
		)
	case StatusFailed:
		o.logger.Warn("fill failed", append(fields, zap.Error(outcome.Err))...)
	}
}
