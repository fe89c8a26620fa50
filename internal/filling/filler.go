package filling

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/form-filler/internal/matching"
)

// ErrNotAccepted is returned in the outcome when Fill is handed a match that
// did not pass the similarity threshold.
var ErrNotAccepted = errors.New("match was not accepted")

type Filler struct {
	form         Form
	pauses       Pauses
	slowKeywords []string
	logger       *zap.Logger
}

// FillerConfig tunes the waits between input actions.
type FillerConfig struct {
	Pauses       Pauses
	SlowKeywords []string
}

func NewFiller(form Form, cfg FillerConfig, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}

	keywords := make([]string, 0, len(cfg.SlowKeywords))
	for _, k := range cfg.SlowKeywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			keywords = append(keywords, k)
		}
	}

	return &Filler{
		form:         form,
		pauses:       cfg.Pauses,
		slowKeywords: keywords,
		logger:       logger,
	}
}

// Fill writes value into the input behind the matched label. An input that
// already holds text is left untouched. The label is claimed only when every
// step succeeded.
func (f *Filler) Fill(ctx context.Context, match matching.Match, value string, mode Mode, claims *matching.Claims) Outcome {
	outcome := outcomeFor(match.Concept, mode, match)

	if !match.Accepted {
		outcome.Status = StatusWeakMatch
		outcome.Err = ErrNotAccepted
		outcome.Reason = ErrNotAccepted.Error()
		return outcome
	}

	id := match.Candidate.InputID

	current, err := f.form.Value(ctx, id)
	if err != nil {
		return outcome.failed("read input value", err)
	}

	if strings.TrimSpace(current) != "" {
		outcome.Status = StatusAlreadyFilled
		return outcome
	}

	if err := f.form.Clear(ctx, id); err != nil {
		return outcome.failed("clear input", err)
	}

	if err := f.form.Settle(ctx, f.pauses.Clear); err != nil {
		return outcome.failed("settle after clear", err)
	}

	if err := f.form.Type(ctx, id, value); err != nil {
		return outcome.failed("type value", err)
	}

	if mode == ModeTypeAndConfirm {
		if err := f.confirm(ctx, match.Concept, id); err != nil {
			return outcome.failed("confirm value", err)
		}
	}

	claims.Claim(match.Candidate.Normalized())
	outcome.Status = StatusFilled
	return outcome
}

func (f *Filler) confirm(ctx context.Context, concept, id string) error {
	if err := f.form.Settle(ctx, f.pauses.Confirm); err != nil {
		return err
	}

	if err := f.form.Confirm(ctx, id); err != nil {
		return err
	}

	if err := f.form.Settle(ctx, f.pauses.Confirm); err != nil {
		return err
	}

	if f.IsSlow(concept) {
		f.logger.Debug("waiting for dependent questions", zap.String("concept", concept), zap.Duration("max", f.pauses.Slow))
		return f.form.Settle(ctx, f.pauses.Slow)
	}

	return nil
}

// IsSlow reports whether answering the concept is expected to re-render the form.
func (f *Filler) IsSlow(concept string) bool {
	lower := strings.ToLower(concept)
	for _, k := range f.slowKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
