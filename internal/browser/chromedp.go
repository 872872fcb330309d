package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/raysh454/pagewatch/internal/logging"
)

// ChromeOptions configures a ChromeLauncher.
type ChromeOptions struct {
	Headless bool
	// ExecPath overrides chromedp's Chrome lookup when set.
	ExecPath string
	// IdleAfter is how long the network must stay quiet before Navigate
	// considers the page settled.
	IdleAfter time.Duration
}

// ChromeLauncher launches Chrome through chromedp.
type ChromeLauncher struct {
	opts   ChromeOptions
	logger logging.Logger
}

func NewChromeLauncher(opts ChromeOptions, logger logging.Logger) *ChromeLauncher {
	if opts.IdleAfter <= 0 {
		opts.IdleAfter = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &ChromeLauncher{
		opts:   opts,
		logger: logger.With(logging.F("component", "chromedp")),
	}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if !l.opts.Headless {
		opts = append(opts,
			chromedp.Flag("headless", false),
			chromedp.Flag("start-maximized", true),
		)
	}
	if l.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.opts.ExecPath))
	}
	return opts
}

// Launch starts Chrome and blocks until it accepts commands.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, l.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			l.logger.Debug("chromedp: " + fmt.Sprintf(format, args...))
		}),
	)

	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	l.logger.Info("browser launched", logging.F("headless", l.opts.Headless))
	return &chromeBrowser{
		ctx:           browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
		idleAfter:     l.opts.IdleAfter,
		logger:        l.logger,
	}, nil
}

type chromeBrowser struct {
	ctx           context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	idleAfter     time.Duration
	logger        logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewPage opens a new tab with the network domain enabled.
func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pageCtx, cancel := chromedp.NewContext(b.ctx)
	p := &chromePage{
		ctx:       pageCtx,
		cancel:    cancel,
		idleAfter: b.idleAfter,
		logger:    b.logger,
		urls:      make(map[network.RequestID]string),
		loaded:    make(map[network.RequestID]chan struct{}),
	}
	chromedp.ListenTarget(pageCtx, p.handleEvent)

	if err := chromedp.Run(pageCtx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return p, nil
}

// Close shuts Chrome down. Repeated calls return the first result.
func (b *chromeBrowser) Close() error {
	b.closeOnce.Do(func() {
		if err := chromedp.Cancel(b.ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.closeErr = fmt.Errorf("close browser: %w", err)
		}
		b.cancelBrowser()
		b.cancelAlloc()
		b.logger.Info("browser closed")
	})
	return b.closeErr
}

type chromePage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	idleAfter time.Duration
	logger    logging.Logger

	hmu             sync.RWMutex
	onRequest       []func(Request)
	onResponse      []func(Response)
	onConsole       []func(ConsoleMessage)
	onPageError     []func(PageError)
	onRequestFailed []func(FailedRequest)
	navTimeout      time.Duration
	opTimeout       time.Duration

	// request id -> url, and request id -> closed when loading ends
	rmu    sync.Mutex
	urls   map[network.RequestID]string
	loaded map[network.RequestID]chan struct{}
}

func (p *chromePage) OnRequest(fn func(Request)) {
	p.hmu.Lock()
	p.onRequest = append(p.onRequest, fn)
	p.hmu.Unlock()
}

func (p *chromePage) OnResponse(fn func(Response)) {
	p.hmu.Lock()
	p.onResponse = append(p.onResponse, fn)
	p.hmu.Unlock()
}

func (p *chromePage) OnConsole(fn func(ConsoleMessage)) {
	p.hmu.Lock()
	p.onConsole = append(p.onConsole, fn)
	p.hmu.Unlock()
}

func (p *chromePage) OnPageError(fn func(PageError)) {
	p.hmu.Lock()
	p.onPageError = append(p.onPageError, fn)
	p.hmu.Unlock()
}

func (p *chromePage) OnRequestFailed(fn func(FailedRequest)) {
	p.hmu.Lock()
	p.onRequestFailed = append(p.onRequestFailed, fn)
	p.hmu.Unlock()
}

func (p *chromePage) SetDefaultTimeouts(navigation, operation time.Duration) {
	p.hmu.Lock()
	defer p.hmu.Unlock()
	if navigation > 0 {
		p.navTimeout = navigation
	}
	if operation > 0 {
		p.opTimeout = operation
	}
}

func (p *chromePage) timeouts() (nav, op time.Duration) {
	p.hmu.RLock()
	defer p.hmu.RUnlock()
	return p.navTimeout, p.opTimeout
}

// scoped derives a chromedp-usable context from the page that is also
// cancelled when ctx is.
func (p *chromePage) scoped(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	var (
		c      context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		c, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		c, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return c, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) (int, error) {
	navTimeout, _ := p.timeouts()
	navCtx, cancel := p.scoped(ctx, navTimeout)
	defer cancel()

	idle := watchNetworkIdle(navCtx, p.idleAfter)

	resp, err := chromedp.RunResponse(navCtx, chromedp.Navigate(url))
	if err != nil {
		return 0, fmt.Errorf("navigate %s: %w", url, err)
	}
	status := 0
	if resp != nil {
		status = int(resp.Status)
	}

	idle.markLoaded()
	select {
	case <-idle.done:
	case <-navCtx.Done():
		return status, fmt.Errorf("wait for network idle on %s: %w", url, navCtx.Err())
	}
	return status, nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	_, opTimeout := p.timeouts()
	shotCtx, cancel := p.scoped(ctx, opTimeout)
	defer cancel()

	var buf []byte
	// quality 100 selects PNG
	if err := chromedp.Run(shotCtx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

// handleEvent runs on chromedp's event goroutine, one event at a time.
func (p *chromePage) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		if e.Request == nil {
			return
		}
		if e.RedirectResponse != nil {
			p.emitResponse(Response{
				ID:       string(e.RequestID),
				Status:   int(e.RedirectResponse.Status),
				URL:      e.RedirectResponse.URL,
				MimeType: e.RedirectResponse.MimeType,
			})
		}
		p.trackRequest(e.RequestID, e.Request.URL)
		p.emitRequest(Request{
			ID:     string(e.RequestID),
			Method: e.Request.Method,
			URL:    e.Request.URL,
		})

	case *network.EventResponseReceived:
		if e.Response == nil {
			return
		}
		p.emitResponse(Response{
			ID:       string(e.RequestID),
			Status:   int(e.Response.Status),
			URL:      e.Response.URL,
			MimeType: e.Response.MimeType,
			Body:     p.bodyFunc(e.RequestID),
		})

	case *network.EventLoadingFinished:
		p.finishRequest(e.RequestID)

	case *network.EventLoadingFailed:
		url := p.finishRequest(e.RequestID)
		p.emitRequestFailed(FailedRequest{
			ID:        string(e.RequestID),
			URL:       url,
			ErrorText: e.ErrorText,
			Canceled:  e.Canceled,
		})

	case *runtime.EventConsoleAPICalled:
		msg := ConsoleMessage{Type: string(e.Type)}
		for i, arg := range e.Args {
			if i > 0 {
				msg.Text += " "
			}
			msg.Text += remoteObjectText(arg)
		}
		p.emitConsole(msg)

	case *runtime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		message := e.ExceptionDetails.Text
		if ex := e.ExceptionDetails.Exception; ex != nil && ex.Description != "" {
			message = ex.Description
		}
		p.emitPageError(PageError{Message: message})
	}
}

func (p *chromePage) trackRequest(id network.RequestID, url string) {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	p.urls[id] = url
	if _, ok := p.loaded[id]; !ok {
		p.loaded[id] = make(chan struct{})
	}
}

func (p *chromePage) finishRequest(id network.RequestID) string {
	p.rmu.Lock()
	defer p.rmu.Unlock()
	url := p.urls[id]
	delete(p.urls, id)
	if ch, ok := p.loaded[id]; ok {
		close(ch)
		delete(p.loaded, id)
	}
	return url
}

// bodyFunc returns a fetcher that waits for the request to finish loading
// before asking Chrome for the body.
func (p *chromePage) bodyFunc(id network.RequestID) func(context.Context) ([]byte, error) {
	p.rmu.Lock()
	ch, ok := p.loaded[id]
	if !ok {
		ch = make(chan struct{})
		p.loaded[id] = ch
	}
	p.rmu.Unlock()

	return func(ctx context.Context) ([]byte, error) {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for response body: %w", ctx.Err())
		}

		bodyCtx, cancel := p.scoped(ctx, 0)
		defer cancel()

		var body []byte
		err := chromedp.Run(bodyCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			b, err := network.GetResponseBody(id).Do(ctx)
			if err != nil {
				return err
			}
			body = b
			return nil
		}))
		if err != nil {
			return nil, fmt.Errorf("get response body: %w", err)
		}
		return body, nil
	}
}

func (p *chromePage) emitRequest(r Request) {
	p.hmu.RLock()
	handlers := p.onRequest
	p.hmu.RUnlock()
	for _, fn := range handlers {
		fn(r)
	}
}

func (p *chromePage) emitResponse(r Response) {
	p.hmu.RLock()
	handlers := p.onResponse
	p.hmu.RUnlock()
	for _, fn := range handlers {
		fn(r)
	}
}

func (p *chromePage) emitConsole(m ConsoleMessage) {
	p.hmu.RLock()
	handlers := p.onConsole
	p.hmu.RUnlock()
	for _, fn := range handlers {
		fn(m)
	}
}

func (p *chromePage) emitPageError(e PageError) {
	p.hmu.RLock()
	handlers := p.onPageError
	p.hmu.RUnlock()
	for _, fn := range handlers {
		fn(e)
	}
}

func (p *chromePage) emitRequestFailed(f FailedRequest) {
	p.hmu.RLock()
	handlers := p.onRequestFailed
	p.hmu.RUnlock()
	for _, fn := range handlers {
		fn(f)
	}
}

// remoteObjectText renders a console argument roughly the way DevTools does.
func remoteObjectText(o *runtime.RemoteObject) string {
	if o == nil {
		return ""
	}
	if len(o.Value) > 0 {
		var s string
		if err := json.Unmarshal([]byte(o.Value), &s); err == nil {
			return s
		}
		return string(o.Value)
	}
	if o.UnserializableValue != "" {
		return string(o.UnserializableValue)
	}
	return o.Description
}
