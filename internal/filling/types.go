package filling

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/form-filler/internal/matching"
)

// Form is the rendering context that holds the application form.
type Form interface {
	// Labels lists the visible labels that point at an input element.
	Labels(ctx context.Context) ([]matching.Candidate, error)
	// Value returns the current value of the input with the given id.
	Value(ctx context.Context, inputID string) (string, error)
	Clear(ctx context.Context, inputID string) error
	Type(ctx context.Context, inputID, text string) error
	// Confirm sends the keystroke that commits a type-ahead selection.
	Confirm(ctx context.Context, inputID string) error
	// Settle waits until the page stops changing, at most for max.
	Settle(ctx context.Context, max time.Duration) error
}

// Uploader attaches local files to file inputs.
type Uploader interface {
	Upload(ctx context.Context, inputID, path string) error
}

// Entry pairs a concept with the answer that should be written for it.
type Entry struct {
	Concept string `json:"concept"`
	Value   string `json:"value"`
}

// Mode selects how a value is written into an input.
type Mode int

const (
	// ModeDirect clears the input and types the value.
	ModeDirect Mode = iota
	// ModeTypeAndConfirm additionally commits the typed value with a keystroke,
	// which is how type-ahead dropdowns pick an option.
	ModeTypeAndConfirm
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeTypeAndConfirm:
		return "type_and_confirm"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	switch string(text) {
	case "direct":
		*m = ModeDirect
	case "type_and_confirm":
		*m = ModeTypeAndConfirm
	default:
		return fmt.Errorf("unknown fill mode %q", text)
	}
	return nil
}

// Status is the kind of result a single concept ended with.
type Status string

const (
	StatusFilled        Status = "filled"
	StatusAlreadyFilled Status = "skipped_already_filled"
	StatusWeakMatch     Status = "weak_match"
	StatusFailed        Status = "failed"
)

// Outcome describes what happened to one concept.
type Outcome struct {
	Concept string  `json:"concept"`
	Mode    Mode    `json:"mode"`
	Status  Status  `json:"status"`
	Label   string  `json:"label,omitempty"`
	InputID string  `json:"input_id,omitempty"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason,omitempty"`
	Err     error   `json:"-"`
}

func outcomeFor(concept string, mode Mode, match matching.Match) Outcome {
	return Outcome{
		Concept: concept,
		Mode:    mode,
		Label:   match.Candidate.Normalized(),
		InputID: match.Candidate.InputID,
		Score:   match.Score,
	}
}

func (o Outcome) failed(step string, err error) Outcome {
	o.Status = StatusFailed
	o.Err = fmt.Errorf("%s: %w", step, err)
	o.Reason = o.Err.Error()
	return o
}

// Pauses bounds the waits used to let client-side UI catch up.
type Pauses struct {
	// Clear is waited after clearing an input and before typing into it.
	Clear time.Duration `json:"clear"`
	// Confirm is waited before and after the confirmation keystroke.
	Confirm time.Duration `json:"confirm"`
	// Slow is waited additionally after slow concepts re-render the form.
	Slow time.Duration `json:"slow"`
}

// DefaultPauses mirrors the timings the target form is known to need.
func DefaultPauses() Pauses {
	return Pauses{
		Clear:   500 * time.Millisecond,
		Confirm: 500 * time.Millisecond,
		Slow:    time.Second,
	}
}

// DefaultSlowKeywords lists concept fragments whose answers make the form
// render dependent questions.
var DefaultSlowKeywords = []string{"authorized to work", "visa sponsorship"}
