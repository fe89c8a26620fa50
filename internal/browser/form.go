package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"go.uber.org/zap"

	"github.com/spigell/form-filler/internal/matching"
	"github.com/spigell/form-filler/internal/utils"
)

const byIDScript = `(id) => document.getElementById(id)`

// ErrInputNotFound is returned when no element carries the requested id.
var ErrInputNotFound = errors.New("input not found")

// Form drives the inputs of the page or frame holding the application form.
type Form struct {
	page         *rod.Page
	stableWindow time.Duration
	logger       *zap.Logger
}

type rawLabel struct {
	text   string
	target string
}

func (f *Form) Labels(ctx context.Context) ([]matching.Candidate, error) {
	els, err := f.page.Context(ctx).Elements("label")
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}

	raw := make([]rawLabel, 0, len(els))
	for _, el := range els {
		target, err := el.Attribute("for")
		if err != nil {
			return nil, fmt.Errorf("read label target: %w", err)
		}
		if target == nil {
			continue
		}

		text, err := el.Text()
		if err != nil {
			return nil, fmt.Errorf("read label text: %w", err)
		}

		raw = append(raw, rawLabel{text: text, target: *target})
	}

	return candidates(raw), nil
}

// candidates keeps labels that point at an input and have matchable text.
func candidates(raw []rawLabel) []matching.Candidate {
	out := make([]matching.Candidate, 0, len(raw))
	for _, r := range raw {
		id := strings.TrimSpace(r.target)
		text := strings.TrimSpace(r.text)
		if id == "" || text == "" {
			continue
		}
		out = append(out, matching.Candidate{Text: text, InputID: id})
	}
	return matching.Matchable(out)
}

func (f *Form) Value(ctx context.Context, inputID string) (string, error) {
	el, err := f.input(ctx, inputID)
	if err != nil {
		return "", err
	}

	value, err := el.Property("value")
	if err != nil {
		return "", fmt.Errorf("read value of %q: %w", inputID, err)
	}
	if value.Nil() {
		return "", nil
	}
	return value.Str(), nil
}

func (f *Form) Clear(ctx context.Context, inputID string) error {
	el, err := f.input(ctx, inputID)
	if err != nil {
		return err
	}

	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("select text of %q: %w", inputID, err)
	}
	if err := el.Input(""); err != nil {
		return fmt.Errorf("clear %q: %w", inputID, err)
	}
	return nil
}

func (f *Form) Type(ctx context.Context, inputID, text string) error {
	el, err := f.input(ctx, inputID)
	if err != nil {
		return err
	}

	if err := el.Input(text); err != nil {
		return fmt.Errorf("type into %q: %w", inputID, err)
	}
	return nil
}

func (f *Form) Confirm(ctx context.Context, inputID string) error {
	el, err := f.input(ctx, inputID)
	if err != nil {
		return err
	}

	if err := el.Type(input.Enter); err != nil {
		return fmt.Errorf("confirm %q: %w", inputID, err)
	}
	return nil
}

// Settle waits until the DOM stops changing, at most for max. When the page
// keeps changing for the whole window the wait simply ends. When stability
// cannot be observed the remaining time is waited out as a fixed delay.
func (f *Form) Settle(ctx context.Context, max time.Duration) error {
	if max <= 0 {
		return nil
	}

	started := time.Now()
	wctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	err := f.page.Context(wctx).WaitDOMStable(f.stableWindow, 0)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return nil
	}

	f.logger.Debug("dom stability unavailable, falling back to fixed delay", zap.Error(err))
	return utils.WaitFor(ctx, max-time.Since(started))
}

// Upload attaches the file at path to the file input with the given id.
func (f *Form) Upload(ctx context.Context, inputID, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("attachment %q: %w", path, err)
	}

	el, err := f.input(ctx, inputID)
	if err != nil {
		return err
	}

	if err := el.SetFiles([]string{path}); err != nil {
		return fmt.Errorf("upload to %q: %w", inputID, err)
	}
	return nil
}

func (f *Form) input(ctx context.Context, id string) (*rod.Element, error) {
	el, err := f.page.Context(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(byIDScript, id))
	if err != nil {
		var notFound *rod.ElementNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: %q", ErrInputNotFound, id)
		}
		return nil, fmt.Errorf("find input %q: %w", id, err)
	}
	return el, nil
}
