// Package browser is the narrow surface the recorder needs from a browser
// engine: launch, one page, five event hooks, navigation, full-page
// screenshots and shutdown.
package browser

import (
	"context"
	"time"
)

// Launcher starts a browser. Every successful Launch must be paired with
// exactly one Browser.Close. The browser lives only as long as the ctx
// passed to Launch; cancelling it kills the engine process.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser owns the engine process and its pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single navigable tab.
//
// Handlers are invoked in the order the engine fires the underlying events.
// They must not block; anything slow (such as Response.Body) belongs on a
// separate goroutine.
type Page interface {
	OnRequest(func(Request))
	OnResponse(func(Response))
	OnConsole(func(ConsoleMessage))
	OnPageError(func(PageError))
	OnRequestFailed(func(FailedRequest))

	// SetDefaultTimeouts bounds Navigate and every other page operation.
	// Zero leaves the corresponding default untouched.
	SetDefaultTimeouts(navigation, operation time.Duration)

	// Navigate loads url and waits until the DOM is loaded and the network
	// is idle. It returns the main document's HTTP status, 0 if unknown.
	Navigate(ctx context.Context, url string) (int, error)

	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}

// Request is an outgoing request as seen by the page.
type Request struct {
	ID     string
	Method string
	URL    string
}

// Response is an incoming response. Body is nil when the engine cannot
// provide one (redirects, for example).
type Response struct {
	ID       string
	Status   int
	URL      string
	MimeType string
	Body     func(ctx context.Context) ([]byte, error)
}

// ConsoleMessage is a console API call made by the page.
type ConsoleMessage struct {
	Type string
	Text string
}

// PageError is an uncaught exception thrown by the page.
type PageError struct {
	Message string
}

// FailedRequest is a request that never completed.
type FailedRequest struct {
	ID        string
	URL       string
	ErrorText string
	Canceled  bool
}
