package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/spigell/form-filler/internal/utils"
)

const (
	defaultNavigationTimeout = 30 * time.Second
	defaultStableWindow      = 200 * time.Millisecond
	labelPollInterval        = 250 * time.Millisecond
)

// Config describes how to obtain a browser.
type Config struct {
	// ControlURL connects to an already running browser instead of launching one.
	ControlURL string
	// Bin overrides the browser binary used by the launcher.
	Bin       string
	Headless  bool
	NoSandbox bool
	// NavigationTimeout bounds loading the form page.
	NavigationTimeout time.Duration
	// StableWindow is how long the DOM must stay unchanged to count as settled.
	StableWindow time.Duration
}

// Session owns one browser and the page holding the application form.
type Session struct {
	cfg      Config
	browser  *rod.Browser
	launcher *launcher.Launcher
	page     *rod.Page
	frame    *rod.Page
	logger   *zap.Logger
}

// Launch starts (or connects to) a browser and opens a blank page.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.StableWindow <= 0 {
		cfg.StableWindow = defaultStableWindow
	}

	s := &Session{cfg: cfg, logger: logger}

	controlURL := strings.TrimSpace(cfg.ControlURL)
	if controlURL == "" {
		l := launcher.New().Context(ctx).Headless(cfg.Headless)
		if cfg.Bin != "" {
			l = l.Bin(cfg.Bin)
		}
		if cfg.NoSandbox {
			l = l.NoSandbox(true)
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
		s.launcher = l
		logger.Debug("browser launched", zap.String("control_url", controlURL), zap.Bool("headless", cfg.Headless))
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	s.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	s.page = page
	s.frame = page

	return s, nil
}

// Open navigates to url and waits for the page to load.
func (s *Session) Open(ctx context.Context, url string) error {
	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait for %s to load: %w", url, err)
	}

	s.frame = s.page
	return nil
}

// EnterFrame switches the form context into the iframe matched by selector.
// A missing frame is not an error: the form is then expected on the page
// itself and false is returned.
func (s *Session) EnterFrame(ctx context.Context, selector string, timeout time.Duration) bool {
	if strings.TrimSpace(selector) == "" {
		return false
	}

	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := s.page.Context(wctx).Element(selector)
	if err != nil {
		s.logger.Debug("form frame not found, staying on the page", zap.String("selector", selector), zap.Error(err))
		return false
	}

	frame, err := el.Context(ctx).Frame()
	if err != nil {
		s.logger.Debug("cannot enter form frame", zap.String("selector", selector), zap.Error(err))
		return false
	}

	s.frame = frame
	s.logger.Debug("switched into form frame", zap.String("selector", selector))
	return true
}

// WaitForLabels polls the form context until at least one label is rendered.
func (s *Session) WaitForLabels(ctx context.Context, timeout time.Duration) error {
	return utils.WaitUntil(ctx, timeout, labelPollInterval, func(ctx context.Context) (bool, error) {
		has, _, err := s.frame.Context(ctx).Has("label")
		return has, err
	})
}

// Form returns the current form context.
func (s *Session) Form() *Form {
	return &Form{page: s.frame, stableWindow: s.cfg.StableWindow, logger: s.logger}
}

// Close releases the browser. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}

	var err error
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if err != nil && s.launcher != nil {
		s.launcher.Kill()
	}
	s.cleanup()

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (s *Session) cleanup() {
	if s.launcher == nil {
		return
	}
	s.launcher.Cleanup()
	s.launcher = nil
}
