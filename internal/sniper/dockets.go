package sniper

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
)

// DocketsConfig configures the legislative alert sniper.
type DocketsConfig struct {
	URL           string
	Keywords      []string
	LookaheadDays int
	Location      *time.Location
}

// Dockets scans upcoming council meetings and alerts on agendas that mention
// short-term rental keywords. Each meeting is alerted at most once.
type Dockets struct {
	cfg     DocketsConfig
	listing sentinel.PageFetcher
	agendas sentinel.PageFetcher
	store   sentinel.DocketStore
	hasher  sentinel.Hasher
	clock   sentinel.Clock
	logger  *zap.Logger
}

// NewDockets builds the docket sniper. listing fetches the meetings page and
// may be a headless browser; agendas should be rate limited.
func NewDockets(
	cfg DocketsConfig,
	listing, agendas sentinel.PageFetcher,
	store sentinel.DocketStore,
	hasher sentinel.Hasher,
	clock sentinel.Clock,
	logger *zap.Logger,
) *Dockets {
	if logger == nil {
		logger = zap.NewNop()
	}
	if agendas == nil {
		agendas = listing
	}
	return &Dockets{
		cfg:     cfg,
		listing: listing,
		agendas: agendas,
		store:   store,
		hasher:  hasher,
		clock:   clock,
		logger:  logger.Named(NameDockets),
	}
}

// Name implements Source.
func (d *Dockets) Name() string { return NameDockets }

type meeting struct {
	id    string
	date  time.Time
	title string
	link  string
}

// Fetch returns alerts for matching meetings inside the lookahead window.
func (d *Dockets) Fetch(ctx context.Context) ([]sentinel.LegislativeAlert, error) {
	if d.cfg.URL == "" {
		return nil, sentinel.NewFetchError(NameDockets, sentinel.FetchNotConfigured, sentinel.ErrNotConfigured)
	}
	resp, err := fetchOK(ctx, d.listing, NameDockets, d.cfg.URL, nil)
	if err != nil {
		return nil, err
	}
	base := resp.URL
	if base == "" {
		base = d.cfg.URL
	}
	meetings, err := d.parseMeetings(resp.Body, base)
	if err != nil {
		return nil, sentinel.NewFetchError(NameDockets, sentinel.FetchParse, err)
	}

	today := StartOfDay(d.clock.Now(), d.cfg.Location)
	end := today.AddDate(0, 0, d.cfg.LookaheadDays+1)

	var alerts []sentinel.LegislativeAlert
	for _, m := range meetings {
		if m.date.Before(today) || !m.date.Before(end) {
			continue
		}
		if alert, ok := d.check(ctx, m); ok {
			alerts = append(alerts, alert)
		}
	}
	return alerts, nil
}

// check returns an alert for m when its agenda matches and the alert could be
// recorded. Any failure skips m so alerts already recorded this run still ship.
func (d *Dockets) check(ctx context.Context, m meeting) (sentinel.LegislativeAlert, bool) {
	logger := d.logger.With(zap.String("meeting_id", m.id), zap.String("link", m.link))

	seen, err := d.store.HasAlerted(ctx, m.id)
	if err != nil {
		logger.Warn("docket history lookup failed; meeting skipped", zap.Error(err))
		return sentinel.LegislativeAlert{}, false
	}
	if seen {
		logger.Debug("meeting already alerted")
		return sentinel.LegislativeAlert{}, false
	}

	resp, err := fetchOK(ctx, d.agendas, NameDockets, m.link, nil)
	if err != nil {
		logger.Warn("agenda fetch failed", zap.Error(err))
		return sentinel.LegislativeAlert{}, false
	}
	matched := matchKeywords(m.title+"\n"+agendaText(resp), d.cfg.Keywords)
	if len(matched) == 0 {
		return sentinel.LegislativeAlert{}, false
	}

	row := sentinel.DocketRow{MeetingID: m.id, MeetingDate: m.date, Link: m.link, AlertedAt: d.clock.Now()}
	if err := d.store.RecordAlert(ctx, row); err != nil {
		logger.Error("record alert failed; meeting not alerted", zap.Error(err))
		return sentinel.LegislativeAlert{}, false
	}
	return sentinel.LegislativeAlert{
		MeetingID:       m.id,
		MeetingDate:     m.date,
		Title:           m.title,
		Link:            m.link,
		MatchedKeywords: matched,
	}, true
}

// parseMeetings reads every table row that has both a date and an agenda link.
func (d *Dockets) parseMeetings(body []byte, pageURL string) ([]meeting, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse meetings page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	var out []meeting
	doc.Find("table tr").Each(func(_ int, row *goquery.Selection) {
		m, ok := d.parseRow(row, base)
		if ok {
			out = append(out, m)
		}
	})
	return out, nil
}

func (d *Dockets) parseRow(row *goquery.Selection, base *url.URL) (meeting, bool) {
	var (
		m     meeting
		found bool
	)
	row.Find("td").Each(func(_ int, cell *goquery.Selection) {
		text := strings.Join(strings.Fields(cell.Text()), " ")
		if !found {
			if t, ok := parseDate(text, d.cfg.Location); ok {
				m.date, found = t, true
				return
			}
		}
		if len(text) > len(m.title) {
			m.title = text
		}
	})
	href, ok := row.Find("a[href]").First().Attr("href")
	if !found || !ok || strings.TrimSpace(href) == "" {
		return meeting{}, false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return meeting{}, false
	}
	m.link = base.ResolveReference(ref).String()

	if id, ok := row.Attr("data-meeting-id"); ok && strings.TrimSpace(id) != "" {
		m.id = strings.TrimSpace(id)
	} else {
		sum, err := d.hasher.Hash([]byte(m.link))
		if err != nil {
			return meeting{}, false
		}
		m.id = sum
	}
	return m, true
}

// agendaText extracts visible text from HTML agendas and passes other bodies through.
func agendaText(resp sentinel.FetchResponse) string {
	ct := strings.ToLower(resp.Headers.Get("Content-Type"))
	trimmed := bytes.TrimSpace(resp.Body)
	isHTML := strings.Contains(ct, "html") || (ct == "" && bytes.HasPrefix(trimmed, []byte("<")))
	if !isHTML {
		return string(resp.Body)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return string(resp.Body)
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

