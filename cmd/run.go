package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/form-filler/internal/browser"
	"github.com/spigell/form-filler/internal/embedding"
	"github.com/spigell/form-filler/internal/embedding/gemini"
	"github.com/spigell/form-filler/internal/embedding/local"
	"github.com/spigell/form-filler/internal/filling"
	"github.com/spigell/form-filler/internal/history"
	"github.com/spigell/form-filler/internal/logger"
	"github.com/spigell/form-filler/internal/matching"
	"github.com/spigell/form-filler/internal/secrets"
	"github.com/spigell/form-filler/internal/utils"
)

const (
	providerGemini = "gemini"
	providerLocal  = "local"

	PromptDone       = "Done, close the browser"
	PromptReportFile = "Dump report to file"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open the form, fill every matched field and leave it for review",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Bool("headless", false, "run the browser without a window")
	runCmd.Flags().BoolP("force", "f", false, "fill the form even if history says it was already filled")
	runCmd.Flags().BoolP("interactive", "i", false, "wait for confirmation instead of the review interval")
	runCmd.Flags().String("report-file", "", "write the JSON report to this file")
	runCmd.Flags().Duration("review", 0, "how long to keep the browser open for review (default 250s)")

	viper.BindPFlag("browser.headless", runCmd.Flags().Lookup("headless"))
	viper.BindPFlag("report-file", runCmd.Flags().Lookup("report-file"))
	viper.BindPFlag("review", runCmd.Flags().Lookup("review"))
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the form-filler", zap.String("version", version))

	plan, err := config.buildPlan(viper.AllSettings())
	if err != nil {
		logger.Fatal("validating the config", zap.Error(err))
	}

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(plan, "", "  ")
	logger.Debug(fmt.Sprintf("starting with plan: \n %s", pretty))

	store := openHistory(ctx, cmd, config, plan.URL, logger)
	if store != nil {
		defer store.Close()
	}

	embedder, err := newEmbedder(ctx, config.Embedding, logger)
	if err != nil {
		logger.Fatal("building the embedder", zap.Error(err))
	}
	cache := embedding.NewCache(embedder)

	session, err := browser.Launch(ctx, config.browserConfig(), logger)
	if err != nil {
		logger.Fatal("starting the browser", zap.Error(err))
	}

	report, err := fill(ctx, session, cache, config, plan, logger)
	if err != nil {
		// logger.Fatal exits without running deferred calls.
		closeSession(session, logger)
		logger.Fatal("filling the form", zap.Error(err))
	}
	defer closeSession(session, logger)

	hits, misses := cache.Stats()
	logger.Debug("embedding cache", zap.Int("hits", hits), zap.Int("misses", misses))

	summarize(report, logger)
	writeReport(report, config.ReportFile, logger)

	if store != nil {
		id, err := store.Record(context.WithoutCancel(ctx), report)
		if err != nil {
			logger.Warn("recording the run in history", zap.Error(err))
		} else {
			logger.Debug("run recorded in history", zap.Int64("run_id", id))
		}
	}

	if report.Interrupted {
		logger.Info("exiting", zap.String("reason", "interrupted"))
		return
	}

	review(ctx, cmd, config, report, logger)
}

func fill(ctx context.Context, session *browser.Session, embedder matching.Embedder, config *Config, plan *plan, logger *zap.Logger) (*filling.Report, error) {
	if err := session.Open(ctx, plan.URL); err != nil {
		return nil, err
	}
	logger.Info("form page opened", zap.String("url", plan.URL))

	session.EnterFrame(ctx, config.frameSelector(), config.frameTimeout())

	if err := session.WaitForLabels(ctx, config.labelTimeout()); err != nil {
		if errors.Is(err, utils.ErrWaitTimeout) {
			logger.Warn("no labels rendered yet, continuing", zap.Duration("waited", config.labelTimeout()))
		} else {
			return nil, fmt.Errorf("waiting for form labels: %w", err)
		}
	}

	form := session.Form()
	matcher := matching.NewMatcher(embedder, config.threshold(), logger)
	logger.Debug("matching labels", zap.Float64("threshold", matcher.Threshold()))
	filler := filling.NewFiller(form, config.fillerConfig(), logger)
	orchestrator := filling.NewOrchestrator(form, matcher, filler, logger)

	report := orchestrator.Run(ctx, plan.Fields, plan.Dropdowns)
	report.URL = plan.URL

	if !report.Interrupted {
		orchestrator.Upload(ctx, form, plan.Attachments, report)
	}

	return report, nil
}

func openHistory(ctx context.Context, cmd *cobra.Command, config *Config, url string, logger *zap.Logger) *history.Store {
	path := config.historyPath()
	if path == "" {
		return nil
	}

	store, err := history.Open(path)
	if err != nil {
		logger.Fatal("opening history", zap.Error(err))
	}

	force, _ := cmd.Flags().GetBool("force")
	if err := store.Check(ctx, url); err != nil {
		if !errors.Is(err, history.ErrAlreadyFilled) {
			store.Close()
			logger.Fatal("checking history", zap.Error(err))
		}
		if !force {
			store.Close()
			logger.Fatal("refusing to fill the form again", zap.Error(err), zap.String("hint", "use --force to fill it anyway"))
		}
		logger.Warn("form was already filled, continuing because of --force", zap.Error(err))
	}

	return store
}

func newEmbedder(ctx context.Context, cfg *EmbeddingConfig, log *zap.Logger) (embedding.Embedder, error) {
	if cfg == nil {
		cfg = &EmbeddingConfig{}
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	switch provider {
	case "", providerGemini:
		gcfg := cfg.Gemini
		if gcfg == nil {
			gcfg = &GeminiConfig{}
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name:    "gemini api key",
			File:    gcfg.APIKeyFile,
			FileEnv: "GEMINI_API_KEY_FILE",
			Env:     "GEMINI_API_KEY",
		})
		if err != nil {
			return nil, fmt.Errorf("%w (set embedding.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
		}

		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:     apiKey,
			Model:      gcfg.Model,
			Dimensions: gcfg.Dimensions,
			MaxRetries: gcfg.MaxRetries,
		}, logger.WithProviderFields(log, providerGemini, gcfg.Model))
		if err != nil {
			return nil, err
		}
		return client, nil
	case providerLocal:
		dims := 0
		if cfg.Local != nil {
			dims = cfg.Local.Dimensions
		}
		e := local.New(dims)
		log.Info("using the offline embedder, matching is lexical", logger.ProviderFields(providerLocal, e.Model())...)
		return e, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

func summarize(report *filling.Report, logger *zap.Logger) {
	totals := report.Totals()
	logger.Info("form filled, please verify and submit manually",
		zap.Int("filled", totals.Filled),
		zap.Int("skipped", totals.Skipped),
		zap.Int("weak", totals.Weak),
		zap.Int("failed", totals.Failed),
	)

	for _, o := range report.Unfilled() {
		logger.Warn("needs manual attention",
			zap.String("concept", o.Concept),
			zap.String("status", string(o.Status)),
			zap.String("reason", o.Reason),
		)
	}

	for _, a := range report.Attachments {
		if !a.Uploaded {
			logger.Warn("attachment needs manual upload", zap.String("attachment", a.Name), zap.String("path", a.Path))
		}
	}
}

func writeReport(report *filling.Report, path string, logger *zap.Logger) {
	if path == "" {
		return
	}

	if err := report.ToFile(path); err != nil {
		logger.Warn("writing the report", zap.String("filename", path), zap.Error(err))
		return
	}
	logger.Info("report written", zap.String("filename", path))
}

// review keeps the browser open so a human can check and submit the form.
func review(ctx context.Context, cmd *cobra.Command, config *Config, report *filling.Report, logger *zap.Logger) {
	interactive, _ := cmd.Flags().GetBool("interactive")
	if !interactive {
		logger.Info("waiting for review", zap.Duration("review", config.review()))
		if err := utils.WaitFor(ctx, config.review()); err != nil {
			logger.Info("review interrupted", zap.Error(err))
		}
		return
	}

	prompt := promptui.Select{
		Label: "Review the form in the browser. Finished?",
		Items: []string{PromptDone, PromptReportFile},
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Info("exiting", zap.Error(err))
			return
		}

		switch action {
		case PromptDone:
			return
		case PromptReportFile:
			filename, err := report.DumpToTmpFile()
			if err != nil {
				logger.Warn("dump report to file", zap.Error(err))
				continue
			}
			logger.Info("dumping report to file", zap.String("filename", filename))
		}
	}
}

func closeSession(session *browser.Session, logger *zap.Logger) {
	if err := session.Close(); err != nil {
		logger.Warn("closing the browser", zap.Error(err))
	}
}
