package filling

import (
	"encoding/json"
	"os"
	"time"
)

// StageResult counts the outcomes of one mapping.
type StageResult struct {
	Name    string `json:"name"`
	Mode    Mode   `json:"mode"`
	Total   int    `json:"total"`
	Filled  int    `json:"filled"`
	Skipped int    `json:"skipped"`
	Weak    int    `json:"weak"`
	Failed  int    `json:"failed"`
}

func (s *StageResult) count(status Status) {
	switch status {
	case StatusFilled:
		s.Filled++
	case StatusAlreadyFilled:
		s.Skipped++
	case StatusWeakMatch:
		s.Weak++
	case StatusFailed:
		s.Failed++
	}
}

// Attachment is a local file destined for a file input.
type Attachment struct {
	Name    string `json:"name"`
	InputID string `json:"input_id"`
	Path    string `json:"path"`
}

type AttachmentResult struct {
	Name     string `json:"name"`
	InputID  string `json:"input_id"`
	Path     string `json:"path"`
	Uploaded bool   `json:"uploaded"`
	Err      string `json:"error,omitempty"`
}

// Report is everything a reviewer needs to finish the form by hand.
type Report struct {
	URL         string             `json:"url,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Stages      []StageResult      `json:"stages"`
	Outcomes    []Outcome          `json:"outcomes"`
	Attachments []AttachmentResult `json:"attachments,omitempty"`
	Claimed     []string           `json:"claimed_labels"`
	Interrupted bool               `json:"interrupted,omitempty"`
}

// Totals sums the stage counters.
func (r *Report) Totals() StageResult {
	total := StageResult{Name: "total"}
	for _, s := range r.Stages {
		total.Total += s.Total
		total.Filled += s.Filled
		total.Skipped += s.Skipped
		total.Weak += s.Weak
		total.Failed += s.Failed
	}
	return total
}

// Unfilled returns the concepts a human still has to answer.
func (r *Report) Unfilled() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusWeakMatch || o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	return r.encode(file)
}

func (r *Report) DumpToTmpFile() (string, error) {
	file, err := os.CreateTemp("", "form-filler_report_*.json")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := r.encode(file); err != nil {
		return "", err
	}
	return file.Name(), nil
}

func (r *Report) encode(file *os.File) error {
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
