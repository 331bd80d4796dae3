package sniper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/municipal-sentinel/internal/hash/sha256"
	"github.com/JakeFAU/municipal-sentinel/internal/sentinel"
	"github.com/JakeFAU/municipal-sentinel/internal/storage/memory"
)

const meetingsHTML = `<html><body>
<table>
  <tr><th>Date</th><th>Meeting</th><th>Agenda</th></tr>
  <tr data-meeting-id="m-099"><td>03/11/2026</td><td>Land Use Committee</td><td><a href="/agendas/99">Agenda</a></td></tr>
  <tr data-meeting-id="m-100"><td>03/12/2026</td><td>City Council Regular Meeting</td><td><a href="/agendas/100">Agenda</a></td></tr>
  <tr><td>March 13, 2026</td><td>Budget Review Committee</td><td><a href="agendas/101">Agenda</a></td></tr>
  <tr data-meeting-id="m-102"><td>04/30/2026</td><td>Vacation Rental Hearing</td><td><a href="/agendas/102">Agenda</a></td></tr>
  <tr data-meeting-id="m-103"><td>03/12/2026</td><td>No agenda posted</td><td>TBD</td></tr>
</table>
</body></html>`

const agenda100 = `<html><head><style>.x{}</style><script>var stro = 1;</script></head>
<body><h1>Agenda</h1><p>Item 4: Short-Term Rental Ordinance amendments</p></body></html>`

type docketFixture struct {
	fs      *feedServer
	store   *memory.Store
	clock   *fixedClock
	dockets *Dockets
}

func newDocketFixture(t *testing.T, store sentinel.DocketStore) docketFixture {
	t.Helper()
	fs := newFeedServer(t)
	url := fs.serve("/meetings", meetingsHTML)
	fs.serve("/agendas/99", "<html><body>short-term rental</body></html>")
	fs.serve("/agendas/100", agenda100)
	fs.serve("/agendas/101", "Budget workshop and capital plan")
	fs.serve("/agendas/102", "<html><body>vacation rental</body></html>")

	mem := memory.NewStore()
	require.NoError(t, mem.RecordAlert(context.Background(), sentinel.DocketRow{
		MeetingID: "m-099", Link: fs.URL + "/agendas/99", AlertedAt: testNow.Add(-48 * time.Hour),
	}))
	if store == nil {
		store = mem
	}
	clock := &fixedClock{now: testNow}
	d := NewDockets(DocketsConfig{
		URL:           url,
		Keywords:      []string{"short-term rental", "vacation rental"},
		LookaheadDays: 7,
	}, newTestFetcher(), nil, store, sha256.NewTruncated(16), clock, zap.NewNop())
	return docketFixture{fs: fs, store: mem, clock: clock, dockets: d}
}

func TestDocketsAlertsOncePerMeeting(t *testing.T) {
	t.Parallel()

	fx := newDocketFixture(t, nil)
	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, sentinel.LegislativeAlert{
		MeetingID:       "m-100",
		MeetingDate:     time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Title:           "City Council Regular Meeting",
		Link:            fx.fs.URL + "/agendas/100",
		MatchedKeywords: []string{"short-term rental"},
	}, alerts[0])

	assert.Equal(t, 0, fx.fs.hitCount("/agendas/99"), "already alerted meetings are not fetched")
	assert.Equal(t, 0, fx.fs.hitCount("/agendas/102"), "meetings outside the window are not fetched")
	assert.Equal(t, 1, fx.fs.hitCount("/agendas/101"))

	seen, err := fx.store.HasAlerted(context.Background(), "m-100")
	require.NoError(t, err)
	assert.True(t, seen)

	fx.clock.Set(testNow.Add(time.Hour))
	alerts, err = fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 1, fx.fs.hitCount("/agendas/100"))
	assert.Equal(t, 2, fx.fs.hitCount("/agendas/101"))
}

func TestDocketsHashesMeetingsWithoutID(t *testing.T) {
	t.Parallel()

	fx := newDocketFixture(t, nil)
	fx.fs.serve("/agendas/101", "Discussion of vacation rental caps")

	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	want, err := sha256.NewTruncated(16).Hash([]byte(fx.fs.URL + "/agendas/101"))
	require.NoError(t, err)
	assert.Equal(t, want, alerts[1].MeetingID)
	assert.Len(t, alerts[1].MeetingID, 16)
	assert.Equal(t, []string{"vacation rental"}, alerts[1].MatchedKeywords)
	assert.Equal(t, "Budget Review Committee", alerts[1].Title)
}

type recordFailStore struct {
	*memory.Store
}

func (recordFailStore) RecordAlert(context.Context, sentinel.DocketRow) error {
	return errors.New("insert failed")
}

type readFailStore struct {
	*memory.Store
}

func (readFailStore) HasAlerted(context.Context, string) (bool, error) {
	return false, errors.New("select failed")
}

func TestDocketsSkipsUnrecordedAlerts(t *testing.T) {
	t.Parallel()

	fx := newDocketFixture(t, recordFailStore{memory.NewStore()})
	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

// laterReadFailStore fails every HasAlerted call after the first failAfter.
type laterReadFailStore struct {
	*memory.Store
	mu        sync.Mutex
	calls     int
	failAfter int
}

func (s *laterReadFailStore) HasAlerted(ctx context.Context, meetingID string) (bool, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n > s.failAfter {
		return false, errors.New("select failed")
	}
	return s.Store.HasAlerted(ctx, meetingID)
}

func TestDocketsStoreReadFailureSkipsMeeting(t *testing.T) {
	t.Parallel()

	fx := newDocketFixture(t, readFailStore{memory.NewStore()})
	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Equal(t, 0, fx.fs.hitCount("/agendas/100"))
}

func TestDocketsKeepsRecordedAlertsWhenLaterReadFails(t *testing.T) {
	t.Parallel()

	store := &laterReadFailStore{Store: memory.NewStore(), failAfter: 2}
	fx := newDocketFixture(t, store)
	fx.fs.serve("/agendas/101", "Discussion of vacation rental caps")

	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(alerts))
	for _, a := range alerts {
		ids = append(ids, a.MeetingID)
	}
	assert.Equal(t, []string{"m-099", "m-100"}, ids)

	for _, id := range ids {
		recorded, err := store.Store.HasAlerted(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, recorded, "every recorded meeting reaches the digest: %s", id)
	}
	assert.Equal(t, 0, fx.fs.hitCount("/agendas/101"), "meeting with failed history lookup is skipped")
}

func TestDocketsAgendaFailureSkipsMeeting(t *testing.T) {
	t.Parallel()

	fx := newDocketFixture(t, nil)
	fx.fs.fail("/agendas/100", 500)
	alerts, err := fx.dockets.Fetch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDocketsListingFailures(t *testing.T) {
	t.Parallel()

	fs := newFeedServer(t)
	d := NewDockets(DocketsConfig{URL: fs.fail("/meetings", 503)}, newTestFetcher(), nil,
		memory.NewStore(), sha256.New(), &fixedClock{now: testNow}, nil)
	_, err := d.Fetch(context.Background())
	assert.Equal(t, sentinel.FetchStatus, sentinel.KindOf(err))

	d = NewDockets(DocketsConfig{}, newTestFetcher(), nil, memory.NewStore(), sha256.New(), &fixedClock{now: testNow}, nil)
	_, err = d.Fetch(context.Background())
	assert.Equal(t, sentinel.FetchNotConfigured, sentinel.KindOf(err))
}

func TestAgendaTextPassesThroughNonHTML(t *testing.T) {
	t.Parallel()

	resp := sentinel.FetchResponse{Body: []byte("plain <b>text</b>"), Headers: map[string][]string{"Content-Type": {"text/plain"}}}
	assert.Equal(t, "plain <b>text</b>", agendaText(resp))

	resp = sentinel.FetchResponse{Body: []byte(agenda100)}
	text := agendaText(resp)
	assert.Contains(t, text, "Short-Term Rental")
	assert.NotContains(t, text, "var stro")
}
