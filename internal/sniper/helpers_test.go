package sniper

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	collyfetcher "github.com/JakeFAU/municipal-sentinel/internal/fetcher/colly"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// feedServer serves static bodies by path and counts hits.
type feedServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies map[string]string
	status map[string]int
	hits   map[string]int
	auth   map[string]string
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{
		bodies: map[string]string{},
		status: map[string]int{},
		hits:   map[string]int{},
		auth:   map[string]string{},
	}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.hits[r.URL.Path]++
		fs.auth[r.URL.Path] = r.Header.Get("Authorization")
		body, ok := fs.bodies[r.URL.Path]
		code := fs.status[r.URL.Path]
		fs.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		if code != 0 {
			w.WriteHeader(code)
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) serve(path, body string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.bodies[path] = body
	return fs.URL + path
}

func (fs *feedServer) fail(path string, code int) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.bodies[path] = "error"
	fs.status[path] = code
	return fs.URL + path
}

func (fs *feedServer) hitCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.hits[path]
}

func (fs *feedServer) authHeader(path string) string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.auth[path]
}

func newTestFetcher() *collyfetcher.Fetcher {
	return collyfetcher.New(collyfetcher.Config{UserAgent: "sentinel-test", Timeout: 5 * time.Second})
}
