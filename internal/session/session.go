// Package session runs one recorder session: launch, navigate, watch the
// network for a fixed window, screenshot before and after, persist, release.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/raysh454/pagewatch/internal/artifacts"
	"github.com/raysh454/pagewatch/internal/browser"
	"github.com/raysh454/pagewatch/internal/config"
	"github.com/raysh454/pagewatch/internal/logging"
	"github.com/raysh454/pagewatch/internal/netlog"
)

// Result describes a finished run.
type Result struct {
	RunID            string    `json:"run_id"`
	TargetURL        string    `json:"target_url"`
	NavigationStatus int       `json:"navigation_status,omitempty"`
	Screenshots      []string  `json:"screenshots"`
	EventsFile       string    `json:"events_file,omitempty"`
	EventCount       int       `json:"event_count"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	State            State     `json:"state"`
}

// Status is a point-in-time view of a session, safe to take while it runs.
type Status struct {
	RunID            string    `json:"run_id"`
	TargetURL        string    `json:"target_url"`
	State            State     `json:"state"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	NavigationStatus int       `json:"navigation_status,omitempty"`
	Events           int       `json:"events"`
}

// Session owns one browser, one page and one Recorder for a single run.
type Session struct {
	id       string
	cfg      *config.Config
	launcher browser.Launcher
	store    *artifacts.Store
	logger   logging.Logger
	rec      *netlog.Recorder

	state atomic.Int32

	mu        sync.Mutex
	startedAt time.Time
	navStatus int
}

func New(cfg *config.Config, launcher browser.Launcher, store *artifacts.Store, logger logging.Logger) *Session {
	if logger == nil {
		logger = logging.NopLogger{}
	}
	id := uuid.New().String()
	logger = logger.With(logging.F("component", "session"), logging.F("run_id", id))
	return &Session{
		id:       id,
		cfg:      cfg,
		launcher: launcher,
		store:    store,
		logger:   logger,
		rec: netlog.NewRecorder(cfg.URLFilter(), netlog.Options{
			DecodeBodies: cfg.Persist,
			BodyTimeout:  cfg.BodyTimeout,
		}, logger),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Recorder exposes the session's event log for live viewers.
func (s *Session) Recorder() *netlog.Recorder { return s.rec }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		RunID:            s.id,
		TargetURL:        s.cfg.TargetURL,
		State:            s.State(),
		StartedAt:        s.startedAt,
		NavigationStatus: s.navStatus,
		Events:           s.rec.Len(),
	}
}

// advance moves the state forward; it never goes back.
func (s *Session) advance(next State) {
	for {
		cur := s.state.Load()
		if State(cur) >= next {
			return
		}
		if s.state.CompareAndSwap(cur, int32(next)) {
			s.logger.Debug("state change", logging.F("from", State(cur).String()), logging.F("to", next.String()))
			return
		}
	}
}

// Run performs the session once. The browser, if launched, is closed on
// every path before Run returns. A non-nil Result is always returned.
func (s *Session) Run(ctx context.Context) (res *Result, err error) {
	if !s.state.CompareAndSwap(int32(StateNotStarted), int32(StateNavigating)) {
		return nil, ErrAlreadyRun
	}

	started := time.Now()
	s.mu.Lock()
	s.startedAt = started
	s.mu.Unlock()

	res = &Result{RunID: s.id, TargetURL: s.cfg.TargetURL, StartedAt: started}
	defer func() {
		s.advance(StateClosed)
		res.State = StateClosed
		res.EventCount = s.rec.Len()
		res.FinishedAt = time.Now()
	}()

	s.logger.Info("launching browser", logging.F("headless", s.cfg.Headless))
	b, err := s.launcher.Launch(ctx)
	if err != nil {
		return res, fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		s.logger.Info("closing browser")
		if cerr := b.Close(); cerr != nil {
			cleanupErr := &CleanupError{Err: cerr}
			s.logger.Error("failed to release browser", logging.F("error", cleanupErr))
			if err == nil {
				err = cleanupErr
			}
		}
	}()

	s.logger.Info("creating new page")
	page, err := b.NewPage(ctx)
	if err != nil {
		return res, fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeouts(s.cfg.NavigationTimeout, s.cfg.EffectiveOperationTimeout())
	s.observe(page)

	s.logger.Info("navigating", logging.F("url", s.cfg.TargetURL))
	status, err := page.Navigate(ctx, s.cfg.TargetURL)
	if err != nil {
		return res, s.fail(ctx, page, res, &NavigationError{URL: s.cfg.TargetURL, Err: err})
	}
	s.mu.Lock()
	s.navStatus = status
	s.mu.Unlock()
	res.NavigationStatus = status
	s.logger.Info("navigation completed", logging.F("status", status))

	path, err := s.capture(ctx, page, artifacts.KindInitial)
	if err != nil {
		return res, s.fail(ctx, page, res, err)
	}
	res.Screenshots = append(res.Screenshots, path)

	s.advance(StateMonitoring)
	s.logger.Info("monitoring", logging.F("duration", s.cfg.MonitorDuration.String()))
	if err := sleepContext(ctx, s.cfg.MonitorDuration); err != nil {
		return res, s.fail(ctx, page, res, fmt.Errorf("monitoring interrupted: %w", err))
	}

	s.advance(StateFinalizing)
	s.logger.Info("monitoring complete, taking final screenshot")
	path, err = s.capture(ctx, page, artifacts.KindFinal)
	if err != nil {
		return res, s.fail(ctx, page, res, err)
	}
	res.Screenshots = append(res.Screenshots, path)

	if s.cfg.Persist {
		if err := s.persistEvents(ctx); err != nil {
			return res, s.fail(ctx, page, res, err)
		}
		res.EventsFile = s.cfg.EventsFile
	}

	s.logger.Info("session finished",
		logging.F("events", s.rec.Len()),
		logging.F("screenshots", len(res.Screenshots)))
	return res, nil
}

func (s *Session) observe(page browser.Page) {
	page.OnRequest(func(r browser.Request) {
		if s.rec.ObserveRequest(r) || s.cfg.LogAllTraffic {
			s.logger.Info("request", logging.F("method", r.Method), logging.F("url", r.URL))
		}
	})
	page.OnResponse(func(r browser.Response) {
		if s.rec.ObserveResponse(r) || s.cfg.LogAllTraffic {
			s.logger.Info("response", logging.F("status", r.Status), logging.F("url", r.URL))
		}
	})
	page.OnConsole(func(m browser.ConsoleMessage) {
		if s.cfg.LogAllTraffic {
			s.logger.Info("console", logging.F("type", m.Type), logging.F("text", m.Text))
			return
		}
		s.logger.Debug("console", logging.F("type", m.Type), logging.F("text", m.Text))
	})
	page.OnPageError(func(e browser.PageError) {
		s.logger.Error("page error", logging.F("message", e.Message))
	})
	page.OnRequestFailed(func(f browser.FailedRequest) {
		if s.rec.Matches(f.URL) || s.cfg.LogAllTraffic {
			s.logger.Warn("request failed",
				logging.F("url", f.URL),
				logging.F("error", f.ErrorText),
				logging.F("canceled", f.Canceled))
		}
	})
}

// capture takes a full-page screenshot and writes it to the store.
func (s *Session) capture(ctx context.Context, page browser.Page, kind artifacts.Kind) (string, error) {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("%s screenshot: %w", kind, err)
	}
	path, err := s.store.SaveScreenshot(kind, png)
	if err != nil {
		return "", &PersistenceError{Path: path, Err: err}
	}
	s.logger.Info("screenshot saved", logging.F("kind", string(kind)), logging.F("path", path))
	return path, nil
}

// fail logs cause and makes a best-effort diagnostic screenshot. It returns
// cause unchanged; a failed diagnostic capture is only logged.
func (s *Session) fail(ctx context.Context, page browser.Page, res *Result, cause error) error {
	s.logger.Error("session failed", logging.F("state", s.State().String()), logging.F("error", cause))

	diagCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EffectiveOperationTimeout())
	defer cancel()
	path, err := s.capture(diagCtx, page, artifacts.KindError)
	if err != nil {
		s.logger.Warn("could not take error screenshot", logging.F("error", err))
		return cause
	}
	res.Screenshots = append(res.Screenshots, path)
	return cause
}

func (s *Session) persistEvents(ctx context.Context) error {
	timeout := s.cfg.BodyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.rec.Wait(waitCtx); err != nil {
		s.logger.Warn("persisting before every response body was read", logging.F("error", err))
	}

	data, err := netlog.MarshalEvents(s.rec.Events())
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	if err := artifacts.SaveJSON(s.cfg.EventsFile, data); err != nil {
		return &PersistenceError{Path: s.cfg.EventsFile, Err: err}
	}
	s.logger.Info("events saved", logging.F("path", s.cfg.EventsFile), logging.F("events", s.rec.Len()))
	return nil
}

// sleepContext waits for d, returning early only if ctx ends first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExitCode maps a Run error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
