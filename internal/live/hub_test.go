package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oentex/oentex/internal/auth"
	"github.com/oentex/oentex/internal/cache"
	"github.com/oentex/oentex/internal/models"
	"github.com/oentex/oentex/internal/ratings"
)

func TestDebouncerRunsLastTrigger(t *testing.T) {
	d := NewDebouncer(30 * time.Millisecond)
	var (
		mu   sync.Mutex
		runs []int
	)
	for i := 0; i < 5; i++ {
		d.Trigger(func() {
			mu.Lock()
			runs = append(runs, i)
			mu.Unlock()
		})
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(runs) == 1
	}, time.Second, 10*time.Millisecond)

	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, []int{4}, runs)
	mu.Unlock()
}

func TestDebouncerStop(t *testing.T) {
	d := NewDebouncer(10 * time.Millisecond)
	var ran atomic.Bool
	d.Trigger(func() { ran.Store(true) })
	d.Stop()
	d.Trigger(func() { ran.Store(true) })

	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load())
}

type countingSearcher struct {
	calls   atomic.Int32
	queries chan string
}

func (s *countingSearcher) FetchPaginatedDeals(ctx context.Context, page, limit int, f models.DealFilters) (*models.DealsPage, error) {
	s.calls.Add(1)
	s.queries <- f.Search
	return &models.DealsPage{Deals: []models.Deal{{ID: "d1", Title: f.Search}}, TotalCount: 1, Page: page, Limit: limit, TotalPages: 1}, nil
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.URL.Query().Get("user"); user != "" {
			r = r.WithContext(auth.ContextWithIdentity(r.Context(), &auth.Identity{UserID: user}))
		}
		hub.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var out Outbound
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestLiveSearchIsDebounced(t *testing.T) {
	searcher := &countingSearcher{queries: make(chan string, 10)}
	hub := NewHub(searcher, WithDebounce(50*time.Millisecond))
	conn := dial(t, newTestServer(t, hub), "")

	for _, q := range []string{"k", "kr", "kra", "krak"} {
		require.NoError(t, conn.WriteJSON(Inbound{Type: TypeSearch, Search: q}))
	}

	out := readMessage(t, conn)
	assert.Equal(t, TypeSearchResults, out.Type)
	assert.Equal(t, "krak", out.Query)
	assert.Equal(t, "krak", <-searcher.queries)
	assert.Equal(t, int32(1), searcher.calls.Load())
}

func TestHubNotifiesUser(t *testing.T) {
	hub := NewHub(&countingSearcher{queries: make(chan string, 1)})
	srv := newTestServer(t, hub)
	alice := dial(t, srv, "?user=alice")
	bob := dial(t, srv, "?user=bob")

	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	hub.Notify("alice", ratings.Notification{Level: "success", Title: "Rating submitted"})
	out := readMessage(t, alice)
	assert.Equal(t, TypeNotification, out.Type)
	assert.Equal(t, map[string]any{"level": "success", "title": "Rating submitted", "message": ""}, out.Data)

	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob receives nothing")
}

func TestHubForwardsInvalidations(t *testing.T) {
	hub := NewHub(&countingSearcher{queries: make(chan string, 1)})
	conn := dial(t, newTestServer(t, hub), "")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	qc := cache.NewClient(cache.NewMemoryStore())
	events, stop := qc.Subscribe(4)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, events)

	require.NoError(t, qc.Invalidate(ctx, cache.FeaturedDeals()))

	out := readMessage(t, conn)
	assert.Equal(t, TypeInvalidated, out.Type)
	assert.Equal(t, []any{"featured-deals|"}, out.Data)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub := NewHub(&countingSearcher{queries: make(chan string, 1)})
	conn := dial(t, newTestServer(t, hub), "")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHubRunClosesClientsOnShutdown(t *testing.T) {
	hub := NewHub(&countingSearcher{queries: make(chan string, 1)})
	dial(t, newTestServer(t, hub), "")
	require.Eventually(t, func() bool { return hub.Count() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx, make(chan cache.Event))
		close(done)
	}()

	cancel()
	<-done
	assert.Equal(t, 0, hub.Count())
}

func TestHubKeepsUserKeysPrivate(t *testing.T) {
	hub := NewHub(&countingSearcher{queries: make(chan string, 1)})
	srv := newTestServer(t, hub)
	alice := dial(t, srv, "?user=alice")
	bob := dial(t, srv, "?user=bob")
	require.Eventually(t, func() bool { return hub.Count() == 2 }, time.Second, 10*time.Millisecond)

	qc := cache.NewClient(cache.NewMemoryStore())
	events, stop := qc.Subscribe(4)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx, events)

	require.NoError(t, qc.Invalidate(ctx,
		cache.FeaturedDeals(),
		cache.UserRatings("alice"),
		cache.UserRating("alice", "c1"),
	))

	out := readMessage(t, alice)
	assert.Equal(t, []any{"featured-deals|"}, out.Data)
	out = readMessage(t, alice)
	assert.Equal(t, TypeInvalidated, out.Type)
	assert.Equal(t, []any{"user-ratings/alice|", "user-rating/alice/c1|"}, out.Data)

	out = readMessage(t, bob)
	assert.Equal(t, []any{"featured-deals|"}, out.Data)
	require.NoError(t, bob.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := bob.ReadMessage()
	assert.Error(t, err, "bob never sees alice's keys")
}

// gatedSearcher holds queries for "slow" until released
type gatedSearcher struct {
	started chan struct{}
	release chan struct{}
}

func (s *gatedSearcher) FetchPaginatedDeals(ctx context.Context, page, limit int, f models.DealFilters) (*models.DealsPage, error) {
	if f.Search == "slow" {
		close(s.started)
		<-s.release
	}
	return &models.DealsPage{Deals: []models.Deal{{ID: "d1", Title: f.Search}}, TotalCount: 1, Page: page, Limit: limit, TotalPages: 1}, nil
}

func TestLiveSearchDropsSupersededResults(t *testing.T) {
	searcher := &gatedSearcher{started: make(chan struct{}), release: make(chan struct{})}
	hub := NewHub(searcher, WithDebounce(20*time.Millisecond))
	conn := dial(t, newTestServer(t, hub), "")

	require.NoError(t, conn.WriteJSON(Inbound{Type: TypeSearch, Search: "slow"}))
	<-searcher.started
	require.NoError(t, conn.WriteJSON(Inbound{Type: TypeSearch, Search: "fast"}))

	out := readMessage(t, conn)
	assert.Equal(t, TypeSearchResults, out.Type)
	assert.Equal(t, "fast", out.Query)

	close(searcher.release)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "results of the older query are not pushed")
}
