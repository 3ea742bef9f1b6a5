package main

import (
	"context"
	"time"

	"github.com/chromedp/chromedp"
)

// browserSettle is how long a rendered page gets to run its scripts before
// the DOM is captured.
const browserSettle = 2 * time.Second

// renderWithBrowser loads rawURL in headless Chrome and returns the DOM
// after scripts have run. Requires Chrome or Chromium on the system.
func renderWithBrowser(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, error) {
	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	if timeout > 0 {
		browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
		defer cancel()
	}

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(browserSettle),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Cause: err}
	}
	return []byte(html), nil
}
