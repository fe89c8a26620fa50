package filling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/form-filler/internal/matching"
)

type fakeForm struct {
	labels  []matching.Candidate
	values  map[string]string
	actions []string
	fail    map[string]error
	uploads map[string]string
}

func newFakeForm(labels ...matching.Candidate) *fakeForm {
	values := make(map[string]string)
	for _, l := range labels {
		values[l.InputID] = ""
	}
	return &fakeForm{
		labels:  labels,
		values:  values,
		fail:    make(map[string]error),
		uploads: make(map[string]string),
	}
}

func (f *fakeForm) Labels(context.Context) ([]matching.Candidate, error) {
	if err := f.fail["labels"]; err != nil {
		return nil, err
	}
	return append([]matching.Candidate(nil), f.labels...), nil
}

func (f *fakeForm) Value(_ context.Context, id string) (string, error) {
	if err := f.fail["value"]; err != nil {
		return "", err
	}
	v, ok := f.values[id]
	if !ok {
		return "", fmt.Errorf("no input with id %q", id)
	}
	return v, nil
}

func (f *fakeForm) Clear(_ context.Context, id string) error {
	f.actions = append(f.actions, "clear:"+id)
	if err := f.fail["clear"]; err != nil {
		return err
	}
	f.values[id] = ""
	return nil
}

func (f *fakeForm) Type(_ context.Context, id, text string) error {
	f.actions = append(f.actions, "type:"+id+":"+text)
	if err := f.fail["type"]; err != nil {
		return err
	}
	f.values[id] += text
	return nil
}

func (f *fakeForm) Confirm(_ context.Context, id string) error {
	f.actions = append(f.actions, "confirm:"+id)
	return f.fail["confirm"]
}

func (f *fakeForm) Settle(ctx context.Context, max time.Duration) error {
	f.actions = append(f.actions, "settle:"+max.String())
	if err := f.fail["settle"]; err != nil {
		return err
	}
	return ctx.Err()
}

func (f *fakeForm) Upload(_ context.Context, id, path string) error {
	if err := f.fail["upload:"+id]; err != nil {
		return err
	}
	f.uploads[id] = path
	return nil
}

// tableEmbedder returns fixed vectors per normalized text and records each batch.
type tableEmbedder struct {
	vectors map[string][]float32
	batches [][]string
}

func (e *tableEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.batches = append(e.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, ok := e.vectors[t]
		if !ok {
			return nil, errors.New("no vector for " + t)
		}
		out[i] = v
	}
	return out, nil
}

func label(text, id string) matching.Candidate {
	return matching.Candidate{Text: text, InputID: id}
}
