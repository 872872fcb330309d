package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/raysh454/pagewatch/internal/browser"
)

// ─── Browser engine ────────────────────────────────────────────────────

// PNG is a minimal valid PNG signature used as fake screenshot output.
var PNG = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

// FakeLauncher implements browser.Launcher and counts acquire/release calls.
type FakeLauncher struct {
	LaunchErr  error
	NewPageErr error
	CloseErr   error
	// Page is handed out by NewPage; a fresh FakePage is used when nil.
	Page *FakePage

	mu       sync.Mutex
	launches int
	closes   int
}

func (l *FakeLauncher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	l.launches++
	if l.Page == nil {
		l.Page = &FakePage{}
	}
	return &fakeBrowser{l: l}, nil
}

// Launches returns how many browsers were successfully acquired.
func (l *FakeLauncher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Closes returns how many times Browser.Close was called.
func (l *FakeLauncher) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

type fakeBrowser struct {
	l *FakeLauncher
}

func (b *fakeBrowser) NewPage(ctx context.Context) (browser.Page, error) {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	if b.l.NewPageErr != nil {
		return nil, b.l.NewPageErr
	}
	return b.l.Page, nil
}

func (b *fakeBrowser) Close() error {
	b.l.mu.Lock()
	defer b.l.mu.Unlock()
	b.l.closes++
	return b.l.CloseErr
}

// FakePage implements browser.Page. Traffic is injected with the Emit*
// methods, typically from the OnNavigate or OnScreenshot hooks so it lands
// at a known point in the session.
type FakePage struct {
	Status      int
	NavigateErr error
	// ScreenshotErrs fails the n-th screenshot (0-based) with the given error.
	ScreenshotErrs map[int]error

	// OnNavigate runs inside Navigate before it returns.
	OnNavigate func(p *FakePage)
	// OnScreenshot runs after the n-th screenshot (0-based) succeeds.
	OnScreenshot func(n int, p *FakePage)

	mu              sync.Mutex
	onRequest       []func(browser.Request)
	onResponse      []func(browser.Response)
	onConsole       []func(browser.ConsoleMessage)
	onPageError     []func(browser.PageError)
	onRequestFailed []func(browser.FailedRequest)

	navTimeout  time.Duration
	opTimeout   time.Duration
	navigations []string
	shots       int
}

func (p *FakePage) OnRequest(fn func(browser.Request)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequest = append(p.onRequest, fn)
}

func (p *FakePage) OnResponse(fn func(browser.Response)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onResponse = append(p.onResponse, fn)
}

func (p *FakePage) OnConsole(fn func(browser.ConsoleMessage)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConsole = append(p.onConsole, fn)
}

func (p *FakePage) OnPageError(fn func(browser.PageError)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onPageError = append(p.onPageError, fn)
}

func (p *FakePage) OnRequestFailed(fn func(browser.FailedRequest)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onRequestFailed = append(p.onRequestFailed, fn)
}

func (p *FakePage) SetDefaultTimeouts(navigation, operation time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navTimeout = navigation
	p.opTimeout = operation
}

// Timeouts returns what SetDefaultTimeouts last received.
func (p *FakePage) Timeouts() (navigation, operation time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navTimeout, p.opTimeout
}

func (p *FakePage) Navigate(ctx context.Context, url string) (int, error) {
	p.mu.Lock()
	p.navigations = append(p.navigations, url)
	hook := p.OnNavigate
	p.mu.Unlock()

	if hook != nil {
		hook(p)
	}
	if p.NavigateErr != nil {
		return 0, p.NavigateErr
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	status := p.Status
	if status == 0 {
		status = 200
	}
	return status, nil
}

// Navigations returns every URL passed to Navigate.
func (p *FakePage) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

func (p *FakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	n := p.shots
	p.shots++
	err := p.ScreenshotErrs[n]
	hook := p.OnScreenshot
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if hook != nil {
		hook(n, p)
	}
	return append([]byte(nil), PNG...), nil
}

// Screenshots returns how many screenshots were attempted.
func (p *FakePage) Screenshots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shots
}

func (p *FakePage) EmitRequest(r browser.Request) {
	p.mu.Lock()
	hs := append([]func(browser.Request){}, p.onRequest...)
	p.mu.Unlock()
	for _, h := range hs {
		h(r)
	}
}

func (p *FakePage) EmitResponse(r browser.Response) {
	p.mu.Lock()
	hs := append([]func(browser.Response){}, p.onResponse...)
	p.mu.Unlock()
	for _, h := range hs {
		h(r)
	}
}

func (p *FakePage) EmitConsole(m browser.ConsoleMessage) {
	p.mu.Lock()
	hs := append([]func(browser.ConsoleMessage){}, p.onConsole...)
	p.mu.Unlock()
	for _, h := range hs {
		h(m)
	}
}

func (p *FakePage) EmitPageError(e browser.PageError) {
	p.mu.Lock()
	hs := append([]func(browser.PageError){}, p.onPageError...)
	p.mu.Unlock()
	for _, h := range hs {
		h(e)
	}
}

func (p *FakePage) EmitRequestFailed(f browser.FailedRequest) {
	p.mu.Lock()
	hs := append([]func(browser.FailedRequest){}, p.onRequestFailed...)
	p.mu.Unlock()
	for _, h := range hs {
		h(f)
	}
}

// JSONBody returns a body func that yields body verbatim.
func JSONBody(body string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return []byte(body), nil }
}

// FailingBody returns a body func that always fails with msg.
func FailingBody(msg string) func(context.Context) ([]byte, error) {
	return func(context.Context) ([]byte, error) { return nil, &errString{msg} }
}
