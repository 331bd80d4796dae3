// Package headless renders council meeting portals that build their tables client-side.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/municipal-sentinel/internal/metrics"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

const (
	defaultNavTimeout   = 45 * time.Second
	defaultWaitSelector = "table tr"
	defaultSettleDelay  = 500 * time.Millisecond
)

// Config controls the headless fetcher.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	// WaitSelector marks a populated meeting table. A page where it never
	// appears is captured as rendered once a third of NavigationTimeout passes.
	WaitSelector string
	// SettleDelay lets the portal finish filling rows after the first one shows.
	SettleDelay time.Duration
}

func (c Config) withDefaults() (Config, error) {
	if c.MaxParallel < 0 {
		return c, fmt.Errorf("max parallel must be >= 0")
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = defaultNavTimeout
	}
	c.WaitSelector = strings.TrimSpace(c.WaitSelector)
	if c.WaitSelector == "" {
		c.WaitSelector = defaultWaitSelector
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
	return c, nil
}

// rowWait bounds the wait for WaitSelector. Portals with nothing posted never render a row.
func (c Config) rowWait() time.Duration {
	return c.NavigationTimeout / 3
}

// Fetcher implements sentinel.PageFetcher using chromedp and headless Chrome.
type Fetcher struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a headless fetcher backed by chromedp.
func NewChromedp(cfg Config) (*Fetcher, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Fetcher{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (f *Fetcher) Close() {
	f.allocCancel()
}

// Fetch renders the meetings page and returns its DOM. Request headers are not
// forwarded; the listing is a public page.
func (f *Fetcher) Fetch(ctx context.Context, request sentinel.FetchRequest) (sentinel.FetchResponse, error) {
	if err := f.acquire(ctx); err != nil {
		return sentinel.FetchResponse{}, err
	}
	defer f.release()

	tabCtx, closeTab := chromedp.NewContext(f.allocator)
	defer closeTab()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	doc := &documentStatus{}
	chromedp.ListenTarget(tabCtx, doc.observe)

	start := time.Now()
	page, err := f.render(tabCtx, request.URL)
	if err != nil {
		metrics.ObserveFeedFetch(request.URL, "error", 0)
		return sentinel.FetchResponse{}, err
	}
	status, finalURL := doc.result(page.location, request.URL)

	metrics.ObserveFeedFetch(request.URL, strconv.Itoa(status), len(page.html))
	return sentinel.FetchResponse{
		URL:        finalURL,
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte(page.html),
		Duration:   time.Since(start),
	}, nil
}

type renderedPage struct {
	html     string
	location string
}

func (f *Fetcher) render(ctx context.Context, url string) (renderedPage, error) {
	var page renderedPage
	// The first Run starts the browser and binds it to ctx.
	if err := chromedp.Run(ctx, f.setup(), chromedp.Navigate(url)); err != nil {
		return page, fmt.Errorf("navigate %s: %w", url, err)
	}
	if f.waitRows(ctx) {
		if err := chromedp.Run(ctx, chromedp.Sleep(f.cfg.SettleDelay)); err != nil {
			return page, fmt.Errorf("settle %s: %w", url, err)
		}
	}
	if err := chromedp.Run(ctx,
		chromedp.Location(&page.location),
		chromedp.OuterHTML("html", &page.html, chromedp.ByQuery),
	); err != nil {
		return page, fmt.Errorf("capture %s: %w", url, err)
	}
	return page, nil
}

// waitRows reports whether WaitSelector appeared before rowWait elapsed.
func (f *Fetcher) waitRows(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, f.cfg.rowWait())
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitReady(f.cfg.WaitSelector, chromedp.ByQuery)) == nil
}

func (f *Fetcher) setup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (f *Fetcher) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Fetcher) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// documentStatus keeps the top-level document response. Agenda viewers embedded
// in iframes also load documents; only the first frame seen is tracked.
type documentStatus struct {
	mu     sync.Mutex
	frame  cdp.FrameID
	status int
	url    string
}

func (d *documentStatus) observe(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frame == "" {
		d.frame = resp.FrameID
	}
	if resp.FrameID != d.frame {
		return
	}
	d.status = int(resp.Response.Status)
	d.url = resp.Response.URL
}

// result falls back to the browser location and 200 when no document
// response was seen, as happens for pages served from cache.
func (d *documentStatus) result(location, requested string) (int, string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, url := d.status, d.url
	if status == 0 {
		status = http.StatusOK
	}
	switch {
	case url != "":
	case location != "":
		url = location
	default:
		url = requested
	}
	return status, url
}
