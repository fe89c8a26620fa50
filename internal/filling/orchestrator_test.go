package filling

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/form-filler/internal/matching"
)

func newTestOrchestrator(form *fakeForm, embedder matching.Embedder, log *zap.Logger) *Orchestrator {
	matcher := matching.NewMatcher(embedder, matching.DefaultThreshold, log)
	filler := NewFiller(form, FillerConfig{Pauses: testPauses(), SlowKeywords: DefaultSlowKeywords}, log)
	return NewOrchestrator(form, matcher, filler, log)
}

func basicForm() *fakeForm {
	return newFakeForm(
		label("Legal First Name *", "first_name"),
		label("Last Name *", "last_name"),
		label("Email", "email"),
	)
}

func basicEmbedder() *tableEmbedder {
	return &tableEmbedder{vectors: map[string][]float32{
		"first name":       {1, 0, 0},
		"legal first name": {0.95, 0.31225, 0},
		"last name":        {0.6, 0.8, 0},
		"email":            {0, 0, 1},
		"desired salary":   {0.4, 0, 0.4},
	}}
}

func TestRunFillsBestLabel(t *testing.T) {
	form := basicForm()
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())

	report := o.Run(context.Background(), []Entry{{Concept: "first name", Value: "Ada"}}, nil)

	require.Len(t, report.Outcomes, 1)
	outcome := report.Outcomes[0]
	assert.Equal(t, StatusFilled, outcome.Status)
	assert.Equal(t, "legal first name", outcome.Label)
	assert.InDelta(t, 0.95, outcome.Score, 1e-6)
	assert.Equal(t, "Ada", form.values["first_name"])
	assert.Equal(t, []string{"legal first name"}, report.Claimed)
}

func TestRunWeakMatchLeavesFormUntouched(t *testing.T) {
	form := basicForm()
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())

	report := o.Run(context.Background(), []Entry{{Concept: "desired salary", Value: "100000"}}, nil)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusWeakMatch, report.Outcomes[0].Status)
	assert.InDelta(t, 0.4, report.Outcomes[0].Score, 1e-6)
	assert.Empty(t, form.actions)
	assert.Empty(t, report.Claimed)
	assert.Equal(t, 1, report.Stages[0].Weak)
}

func TestRunConceptWithoutTextIsWeak(t *testing.T) {
	form := basicForm()
	embedder := basicEmbedder()
	o := newTestOrchestrator(form, embedder, zap.NewNop())

	report := o.Run(context.Background(), []Entry{{Concept: "*?", Value: "x"}}, nil)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusWeakMatch, report.Outcomes[0].Status)
	assert.Equal(t, "concept has no matchable text", report.Outcomes[0].Reason)
	assert.Empty(t, embedder.batches)
	assert.Empty(t, form.actions)
}

func TestRunDropdownConfirmsAndWaits(t *testing.T) {
	form := newFakeForm(label("Are you legally authorized to work in the United States?", "q_auth"))
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"authorized to work in the united states":                {1, 0},
		"are you legally authorized to work in the united states": {0.9, 0.43589},
	}}
	o := newTestOrchestrator(form, embedder, zap.NewNop())

	report := o.Run(context.Background(), nil, []Entry{{Concept: "authorized to work in the United States", Value: "Yes"}})

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusFilled, report.Outcomes[0].Status)
	assert.Equal(t, ModeTypeAndConfirm, report.Outcomes[0].Mode)
	assert.Equal(t, []string{
		"clear:q_auth", "settle:10ms", "type:q_auth:Yes",
		"settle:20ms", "confirm:q_auth", "settle:20ms", "settle:30ms",
	}, form.actions)
	assert.Equal(t, "Yes", form.values["q_auth"])
}

func TestRunEarlierConceptClaimsSharedLabel(t *testing.T) {
	form := newFakeForm(label("Email", "email"), label("Secondary Email", "email2"))
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"email":           {1, 0, 0},
		"contact email":   {0.9, 0.43589, 0},
		"secondary email": {0.6, 0.8, 0},
	}}
	o := newTestOrchestrator(form, embedder, zap.NewNop())

	report := o.Run(context.Background(), []Entry{
		{Concept: "email", Value: "ada@example.com"},
		{Concept: "contact email", Value: "ada@work.example.com"},
	}, nil)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "email", report.Outcomes[0].Label)
	assert.Equal(t, "secondary email", report.Outcomes[1].Label)
	assert.Equal(t, StatusFilled, report.Outcomes[1].Status)
	assert.Equal(t, "ada@example.com", form.values["email"])
	assert.Equal(t, "ada@work.example.com", form.values["email2"])
	assert.Equal(t, []string{"email", "secondary email"}, report.Claimed)

	require.Len(t, embedder.batches, 2)
	assert.Equal(t, []string{"secondary email", "contact email"}, embedder.batches[1],
		"claimed label must not be offered again")
}

func TestRunClaimedLabelNeverReturned(t *testing.T) {
	form := newFakeForm(label("Email", "email"))
	embedder := &tableEmbedder{vectors: map[string][]float32{
		"email":         {1, 0},
		"contact email": {0.9, 0.43589},
	}}
	o := newTestOrchestrator(form, embedder, zap.NewNop())

	report := o.Run(context.Background(),
		[]Entry{{Concept: "email", Value: "a@b.c"}},
		[]Entry{{Concept: "contact email", Value: "x@y.z"}},
	)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StatusWeakMatch, report.Outcomes[1].Status)
	assert.Equal(t, "no unclaimed labels on the form", report.Outcomes[1].Reason)
	assert.Equal(t, "a@b.c", form.values["email"])
}

func TestRunContinuesAfterFailures(t *testing.T) {
	form := basicForm()
	form.values["email"] = "already@there.com"
	embedder := basicEmbedder()
	embedder.vectors["phone"] = []float32{0, 1, 0}
	embedder.vectors["last name"] = []float32{0, 0.8, 0.6}

	core, observed := observer.New(zapcore.InfoLevel)
	o := newTestOrchestrator(form, embedder, zap.New(core))

	failing := &failingMatcher{err: errors.New("embedding service unavailable")}
	o.matcher = failing.wrap(o.matcher, "phone")

	report := o.Run(context.Background(), []Entry{
		{Concept: "phone", Value: "555"},
		{Concept: "email", Value: "ada@example.com"},
		{Concept: "first name", Value: "Ada"},
	}, nil)

	require.Len(t, report.Outcomes, 3)
	assert.Equal(t, StatusFailed, report.Outcomes[0].Status)
	assert.Equal(t, StatusAlreadyFilled, report.Outcomes[1].Status)
	assert.Equal(t, StatusFilled, report.Outcomes[2].Status)
	assert.Equal(t, "already@there.com", form.values["email"])

	totals := report.Totals()
	assert.Equal(t, 3, totals.Total)
	assert.Equal(t, 1, totals.Failed)
	assert.Equal(t, 1, totals.Skipped)
	assert.Equal(t, 1, totals.Filled)

	failed := observed.FilterMessage("fill failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "phone", failed[0].ContextMap()["concept"])
	assert.Len(t, observed.FilterMessage("skipped, already filled").All(), 1)
	assert.Len(t, observed.FilterMessage("fill stage").All(), 2)
}

func TestRunListLabelsFailure(t *testing.T) {
	form := basicForm()
	form.fail["labels"] = errors.New("frame detached")
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())

	report := o.Run(context.Background(), []Entry{{Concept: "email", Value: "a"}}, []Entry{{Concept: "school", Value: "b"}})

	require.Len(t, report.Outcomes, 2)
	for _, outcome := range report.Outcomes {
		assert.Equal(t, StatusFailed, outcome.Status)
		assert.Contains(t, outcome.Reason, "list labels")
	}
	assert.Len(t, report.Unfilled(), 2)
}

func TestRunStopsWhenContextDone(t *testing.T) {
	form := basicForm()
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := o.Run(ctx, []Entry{{Concept: "first name", Value: "Ada"}}, nil)

	assert.True(t, report.Interrupted)
	assert.Empty(t, report.Outcomes)
	assert.Empty(t, form.actions)
}

func TestUploadRecordsEachAttachment(t *testing.T) {
	form := basicForm()
	form.fail["upload:cover_letter"] = errors.New("no such element")
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())

	report := &Report{}
	o.Upload(context.Background(), form, []Attachment{
		{Name: "resume", InputID: "resume", Path: "/tmp/resume.pdf"},
		{Name: "cover letter", InputID: "cover_letter", Path: "/tmp/cover.pdf"},
	}, report)

	require.Len(t, report.Attachments, 2)
	assert.True(t, report.Attachments[0].Uploaded)
	assert.False(t, report.Attachments[1].Uploaded)
	assert.Equal(t, "no such element", report.Attachments[1].Err)
	assert.Equal(t, "/tmp/resume.pdf", form.uploads["resume"])
}

func TestReportToFile(t *testing.T) {
	form := basicForm()
	o := newTestOrchestrator(form, basicEmbedder(), zap.NewNop())
	report := o.Run(context.Background(), []Entry{{Concept: "first name", Value: "Ada"}}, nil)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.ToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded.Outcomes, 1)
	assert.Equal(t, ModeDirect, decoded.Outcomes[0].Mode)
	assert.Equal(t, StatusFilled, decoded.Outcomes[0].Status)
	assert.Contains(t, string(data), `"mode": "direct"`)

	tmp, err := report.DumpToTmpFile()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Remove(tmp) })
	assert.FileExists(t, tmp)
}

// failingMatcher fails for a single concept and delegates the rest.
type failingMatcher struct {
	err     error
	next    LabelMatcher
	concept string
}

func (f *failingMatcher) wrap(next LabelMatcher, concept string) LabelMatcher {
	f.next = next
	f.concept = concept
	return f
}

func (f *failingMatcher) FindBestMatch(ctx context.Context, concept string, candidates []matching.Candidate, claims *matching.Claims) (matching.Match, error) {
	if concept == f.concept {
		return matching.Match{Concept: concept}, f.err
	}
	return f.next.FindBestMatch(ctx, concept, candidates, claims)
}
