// Package detector decides when a council listing page needs a browser render.
package detector

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// Heuristic flags pages that are client-rendered shells.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. Zero selects a 2 KiB threshold.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// Agenda portals (Legistar, Granicus, PrimeGov) ship these in their SPA shells.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-app"),
}

// ShouldRender reports whether resp looks like a shell with no server-rendered meetings.
func (h *Heuristic) ShouldRender(resp sentinel.FetchResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	// Server-rendered meeting tables never need a browser.
	if bytes.Contains(bytes.ToLower(body), []byte("<tr")) {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage > 0 && coverage*100/total >= 25
}

// Escalating fetches with a cheap direct request and re-fetches through a browser when
// the detector flags the direct result.
type Escalating struct {
	direct   sentinel.PageFetcher
	browser  sentinel.PageFetcher
	detector *Heuristic
	logger   *zap.Logger
}

// NewEscalating wires a direct fetcher to a browser fallback.
func NewEscalating(direct, browser sentinel.PageFetcher, detector *Heuristic, logger *zap.Logger) *Escalating {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalating{direct: direct, browser: browser, detector: detector, logger: logger}
}

// Fetch implements sentinel.PageFetcher.
func (e *Escalating) Fetch(ctx context.Context, req sentinel.FetchRequest) (sentinel.FetchResponse, error) {
	resp, err := e.direct.Fetch(ctx, req)
	if err != nil {
		return resp, fmt.Errorf("direct fetch: %w", err)
	}
	if e.browser == nil || !e.detector.ShouldRender(resp) {
		return resp, nil
	}
	e.logger.Info("promoting listing fetch to headless", zap.String("url", req.URL), zap.Int("direct_bytes", len(resp.Body)))
	rendered, err := e.browser.Fetch(ctx, req)
	if err != nil {
		return sentinel.FetchResponse{}, fmt.Errorf("headless fetch: %w", err)
	}
	return rendered, nil
}
