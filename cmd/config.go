package cmd

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/form-filler/internal/browser"
	"github.com/spigell/form-filler/internal/filling"
	"github.com/spigell/form-filler/internal/matching"
)

const (
	defaultFrameSelector = "iframe#grnhse_iframe"
	defaultFrameTimeout  = 2 * time.Second
	defaultLabelTimeout  = 10 * time.Second
	defaultReview        = 250 * time.Second

	// Flat config keys naming the attachments when no attachments section is given.
	resumePathKey      = "resume_path"
	coverLetterPathKey = "cover_letter_path"
)

// Keys are the answer keys a flat config file uses, lowercased by viper.
var defaultFields = []ConceptConfig{
	{Concept: "first name", Key: "first_name"},
	{Concept: "last name", Key: "last_name"},
	{Concept: "email", Key: "email"},
	{Concept: "phone", Key: "phone"},
	{Concept: "LinkedIn", Key: "linkedin"},
	{Concept: "pronouns", Key: "pronouns"},
	{Concept: "desired salary", Key: "desired salary"},
	{Concept: "availability", Key: "availability"},
	{Concept: "relatives working in company", Key: "relatives"},
	{Concept: "website", Key: "portfolio"},
}

var defaultDropdowns = []ConceptConfig{
	{Concept: "authorized to work in the United States", Key: "work_authorized"},
	{Concept: "require visa sponsorship", Key: "need_sponsorship"},
	{Concept: "school", Key: "school"},
	{Concept: "degree", Key: "degree"},
	{Concept: "discipline", Key: "discipline"},
	{Concept: "are you a U.S. citizen", Key: "us_citizen"},
	{Concept: "gender", Key: "gender"},
	{Concept: "veteran status", Key: "veteran_status"},
	{Concept: "disability status", Key: "disability_status"},
	{Concept: "are you hispaniclatino", Key: "are you hispaniclatino"},
	{Concept: "please identify your race", Key: "race"},
}

var defaultAttachments = []AttachmentConfig{
	{Name: "resume", InputID: "resume", Path: resumePathKey},
	{Name: "cover letter", InputID: "cover_letter", Path: coverLetterPathKey},
}

// plan is a validated config ready to drive a run.
type plan struct {
	URL         string
	Fields      []filling.Entry
	Dropdowns   []filling.Entry
	Attachments []filling.Attachment
}

// missingKeysError lists every answer key a concept or a flat attachment refers to
// but the config lacks.
type missingKeysError struct {
	keys []string
}

func (e *missingKeysError) Error() string {
	return fmt.Sprintf("missing answers for keys: %s", strings.Join(e.keys, ", "))
}

func (c *Config) fieldTable() []ConceptConfig {
	if len(c.Fields) > 0 {
		return c.Fields
	}
	return defaultFields
}

func (c *Config) dropdownTable() []ConceptConfig {
	if len(c.Dropdowns) > 0 {
		return c.Dropdowns
	}
	return defaultDropdowns
}

// buildPlan resolves every concept to its answer. settings are the raw
// top-level config values, which hold the answers in a flat config file;
// the answers section takes precedence over them.
func (c *Config) buildPlan(settings map[string]any) (*plan, error) {
	var errs []error

	url := strings.TrimSpace(c.URL)
	if url == "" {
		errs = append(errs, errors.New("url is required"))
	}

	if c.Matching != nil && (c.Matching.Threshold < 0 || c.Matching.Threshold > 1) {
		errs = append(errs, fmt.Errorf("matching.threshold must be within [0, 1], got %v", c.Matching.Threshold))
	}

	answers, err := resolveAnswers(settings, c.Answers)
	if err != nil {
		return nil, err
	}

	var missing []string
	seen := make(map[string]bool)
	need := func(key string) (string, bool) {
		value, ok := answers[key]
		if !ok && !seen[key] {
			seen[key] = true
			missing = append(missing, key)
		}
		return value, ok
	}
	lookup := func(table []ConceptConfig) []filling.Entry {
		entries := make([]filling.Entry, 0, len(table))
		for _, row := range table {
			value, ok := need(answerKey(row))
			if !ok {
				continue
			}
			entries = append(entries, filling.Entry{Concept: row.Concept, Value: value})
		}
		return entries
	}

	p := &plan{
		URL:       url,
		Fields:    lookup(c.fieldTable()),
		Dropdowns: lookup(c.dropdownTable()),
	}

	if len(c.Attachments) == 0 {
		for _, def := range defaultAttachments {
			need(def.Path)
		}
	}

	if len(missing) > 0 {
		errs = append(errs, &missingKeysError{keys: missing})
	}

	attachments, err := c.attachments(answers)
	if err != nil {
		errs = append(errs, err)
	}
	p.Attachments = attachments

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return p, nil
}

// attachments returns the configured files. Without an attachments section
// the flat resume_path and cover_letter_path answers name them; buildPlan
// reports those keys as missing when they are absent.
func (c *Config) attachments(answers map[string]string) ([]filling.Attachment, error) {
	configured := c.Attachments
	if len(configured) == 0 {
		for _, def := range defaultAttachments {
			path, ok := answers[def.Path]
			if !ok {
				continue
			}
			configured = append(configured, AttachmentConfig{Name: def.Name, InputID: def.InputID, Path: path})
		}
	}

	var errs []error
	out := make([]filling.Attachment, 0, len(configured))
	for i, a := range configured {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			name = fmt.Sprintf("attachment #%d", i+1)
		}

		path := strings.TrimSpace(a.Path)
		inputID := strings.TrimSpace(a.InputID)
		switch {
		case inputID == "":
			errs = append(errs, fmt.Errorf("%s: input-id is required", name))
			continue
		case path == "":
			errs = append(errs, fmt.Errorf("%s: path is required", name))
			continue
		}

		if _, err := os.Stat(path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}

		out = append(out, filling.Attachment{Name: name, InputID: inputID, Path: path})
	}

	return out, errors.Join(errs...)
}

func answerKey(row ConceptConfig) string {
	key := row.Key
	if strings.TrimSpace(key) == "" {
		key = row.Concept
	}
	return strings.ToLower(strings.TrimSpace(key))
}

// resolveAnswers flattens the scalar top-level settings and the answers
// section into strings keyed by lowercased key.
func resolveAnswers(settings, answers map[string]any) (map[string]string, error) {
	raw := make(map[string]any, len(settings)+len(answers))
	for k, v := range settings {
		if v == nil {
			v = ""
		}
		if isScalar(v) {
			raw[strings.ToLower(strings.TrimSpace(k))] = v
		}
	}
	for k, v := range answers {
		if v == nil {
			// An explicitly empty answer clears the field.
			v = ""
		}
		if !isScalar(v) {
			return nil, fmt.Errorf("answer %q must be a scalar value, got %T", k, v)
		}
		raw[strings.ToLower(strings.TrimSpace(k))] = v
	}

	out := make(map[string]string, len(raw))
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       boolToStringHook,
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return nil, fmt.Errorf("creating answers decoder: %w", err)
	}

	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decoding answers: %w", err)
	}
	return out, nil
}

// boolToStringHook keeps yes/no answers readable; the weak decoder would
// turn them into "1" and "0".
func boolToStringHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.Bool && to.Kind() == reflect.String {
		return strconv.FormatBool(data.(bool)), nil
	}
	return data, nil
}

func isScalar(v any) bool {
	if v == nil {
		return false
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Func, reflect.Chan:
		return false
	}
	return true
}

func (c *Config) threshold() float64 {
	if c.Matching == nil || c.Matching.Threshold == 0 {
		return matching.DefaultThreshold
	}
	return c.Matching.Threshold
}

func (c *Config) fillerConfig() filling.FillerConfig {
	cfg := filling.FillerConfig{
		Pauses:       filling.DefaultPauses(),
		SlowKeywords: filling.DefaultSlowKeywords,
	}

	if c.Matching != nil && len(c.Matching.SlowKeywords) > 0 {
		cfg.SlowKeywords = c.Matching.SlowKeywords
	}

	if p := c.Pauses; p != nil {
		if p.Clear > 0 {
			cfg.Pauses.Clear = p.Clear
		}
		if p.Confirm > 0 {
			cfg.Pauses.Confirm = p.Confirm
		}
		if p.Slow > 0 {
			cfg.Pauses.Slow = p.Slow
		}
	}

	return cfg
}

func (c *Config) browserConfig() browser.Config {
	if c.Browser == nil {
		return browser.Config{}
	}
	return browser.Config{
		ControlURL:        c.Browser.ControlURL,
		Bin:               c.Browser.Bin,
		Headless:          c.Browser.Headless,
		NoSandbox:         c.Browser.NoSandbox,
		NavigationTimeout: c.Browser.NavigationTimeout,
		StableWindow:      c.Browser.StableWindow,
	}
}

func (c *Config) frameSelector() string {
	if c.Browser == nil || c.Browser.FrameSelector == "" {
		return defaultFrameSelector
	}
	return c.Browser.FrameSelector
}

func (c *Config) frameTimeout() time.Duration {
	if c.Browser == nil || c.Browser.FrameTimeout <= 0 {
		return defaultFrameTimeout
	}
	return c.Browser.FrameTimeout
}

func (c *Config) labelTimeout() time.Duration {
	if c.Browser == nil || c.Browser.LabelTimeout <= 0 {
		return defaultLabelTimeout
	}
	return c.Browser.LabelTimeout
}

func (c *Config) review() time.Duration {
	if c.Review <= 0 {
		return defaultReview
	}
	return c.Review
}

func (c *Config) historyPath() string {
	if c.History == nil {
		return ""
	}
	return strings.TrimSpace(c.History.Path)
}
