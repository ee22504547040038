package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/mxmCherry/openrtb/v15/openrtb2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtb-bidder/internal/bidcache"
	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/control"
	"rtb-bidder/internal/engine"
	"rtb-bidder/internal/rtb"
)

type recordedEvents struct {
	mu       sync.Mutex
	requests []*rtb.BidRequest
	bids     []*engine.BidResponse
	wins     []control.WinEvent
	clicks   []string
}

func (e *recordedEvents) SendRequest(r *rtb.BidRequest) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, r)
}

func (e *recordedEvents) SendBid(r *engine.BidResponse) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bids = append(e.bids, r)
}

func (e *recordedEvents) SendWin(w control.WinEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wins = append(e.wins, w)
}

func (e *recordedEvents) PublishClick(uri string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks = append(e.clicks, uri)
}

func (e *recordedEvents) Requests() []*rtb.BidRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*rtb.BidRequest(nil), e.requests...)
}

func (e *recordedEvents) Bids() []*engine.BidResponse {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*engine.BidResponse(nil), e.bids...)
}

func (e *recordedEvents) Wins() []control.WinEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]control.WinEvent(nil), e.wins...)
}

func (e *recordedEvents) Clicks() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.clicks...)
}

func testCampaigns(t *testing.T) []*campaign.Campaign {
	specs := []campaign.Spec{
		{
			Owner:    "acme",
			ID:       "us-banner",
			Price:    1.5,
			AdDomain: "acme.example",
			Attributes: []campaign.AttributeSpec{
				{Dimension: "country", Type: "INCLUDE", Values: []string{"us"}},
				{Dimension: "os", Type: "INCLUDE", Values: []string{"android"}},
			},
			Creatives: []campaign.CreativeSpec{{
				ImpID:      "cr1",
				W:          300,
				H:          250,
				ForwardURL: "http://acme.example/landing",
				AdM:        `<a href="{forward_url}">{bid_id}</a>`,
			}},
		},
	}
	cs, err := campaign.BuildAll(specs)
	require.NoError(t, err)
	return cs
}

type testServer struct {
	*httptest.Server
	events *recordedEvents
	cache  *bidcache.MemoryCache
}

func newTestServer(t *testing.T) *testServer {
	pool := pond.NewPool(4)
	t.Cleanup(pool.StopAndWait)

	store := campaign.NewStore()
	require.NoError(t, store.Publish(testCampaigns(t)))
	eng := engine.NewEngine(store, pool, engine.WithBudget(time.Second))

	cache := bidcache.NewMemoryCache(0)
	t.Cleanup(func() { _ = cache.Close() })

	events := &recordedEvents{}
	h := NewBidHandler(eng, store, cache, events, time.Minute)
	ts := httptest.NewServer(Router(h))
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, events: events, cache: cache}
}

func bidBody(country, os string, w, h int) string {
	return `{"id":"req-1","imp":[{"id":"1","banner":{"w":` + strconv.Itoa(w) + `,"h":` + strconv.Itoa(h) + `}}],` +
		`"app":{"bundle":"com.any"},"device":{"os":"` + os + `","geo":{"country":"` + country + `"}}}`
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func TestBid_Scenarios(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown exchange", "/rtb/bids/nope", bidBody("US", "android", 300, 250), http.StatusNotFound},
		{"malformed body", "/rtb/bids/openrtb", "{", http.StatusBadRequest},
		{"no impression", "/rtb/bids/openrtb", `{"id":"x","imp":[]}`, http.StatusBadRequest},
		{"no match", "/rtb/bids/openrtb", bidBody("CA", "android", 300, 250), http.StatusNoContent},
		{"wrong size", "/rtb/bids/openrtb", bidBody("US", "android", 728, 90), http.StatusNoContent},
		{"match", "/rtb/bids/openrtb", bidBody("us", "Android", 300, 250), http.StatusOK},
		{"match via mobclix", "/rtb/bids/mobclix", bidBody("US", "android", 300, 250), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus != http.StatusOK {
				return
			}
			var out openrtb2.BidResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
			assert.Equal(t, "req-1", out.ID)
			require.Len(t, out.SeatBid, 1)
			require.Len(t, out.SeatBid[0].Bid, 1)
			bid := out.SeatBid[0].Bid[0]
			assert.Equal(t, "acme", out.SeatBid[0].Seat)
			assert.Equal(t, "us-banner", bid.CID)
			assert.Equal(t, "cr1", bid.CrID)
			assert.Equal(t, 1.5, bid.Price)
			assert.Equal(t, []string{"acme.example"}, bid.ADomain)
			assert.Equal(t, `<a href="http://acme.example/landing">`+bid.ID+`</a>`, bid.AdM)
			assert.Contains(t, bid.NURL, "/rtb/win/"+bid.ID)

			assert.Len(t, ts.events.Bids(), 1)
			assert.Len(t, ts.events.Requests(), 1)
		})
	}
}

func TestWin_ResolvesCachedBidOnce(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/rtb/bids/openrtb", "application/json", strings.NewReader(bidBody("US", "android", 300, 250)))
	require.NoError(t, err)
	var out openrtb2.BidResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	bid := out.SeatBid[0].Bid[0]

	win, err := http.Get(ts.URL + "/rtb/win/" + bid.ID + "?price=0.9&adid=us-banner")
	require.NoError(t, err)
	defer win.Body.Close()
	assert.Equal(t, http.StatusOK, win.StatusCode)

	body, err := io.ReadAll(win.Body)
	require.NoError(t, err)
	assert.Equal(t, bid.AdM, string(body))

	wins := ts.events.Wins()
	require.Len(t, wins, 1)
	assert.Equal(t, "0.9", wins[0].Cost)
	assert.Equal(t, "1.5", wins[0].Price)

	_, err = ts.cache.Get(context.Background(), bid.ID)
	assert.ErrorIs(t, err, bidcache.ErrNotFound)

	again, err := http.Get(ts.URL + "/rtb/win/" + bid.ID)
	require.NoError(t, err)
	again.Body.Close()
	assert.Equal(t, http.StatusNotFound, again.StatusCode)
}

func TestWin_ConcurrentNotificationsPublishOnce(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/rtb/bids/openrtb", "application/json", strings.NewReader(bidBody("US", "android", 300, 250)))
	require.NoError(t, err)
	var out openrtb2.BidResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	id := out.SeatBid[0].Bid[0].ID

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes []int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			win, err := http.Get(ts.URL + "/rtb/win/" + id)
			if !assert.NoError(t, err) {
				return
			}
			win.Body.Close()
			mu.Lock()
			codes = append(codes, win.StatusCode)
			mu.Unlock()
		}()
	}
	wg.Wait()

	ok := 0
	for _, c := range codes {
		if c == http.StatusOK {
			ok++
		} else {
			assert.Equal(t, http.StatusNotFound, c)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, ts.events.Wins(), 1)
}

func TestForced(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantW      int64
	}{
		{"resized to request", "/rtb/forced/acme/us-banner/cr1", bidBody("US", "android", 728, 90), http.StatusOK, 728},
		{"attributes fail", "/rtb/forced/acme/us-banner/cr1", bidBody("CA", "android", 300, 250), http.StatusNoContent, 0},
		{"unknown campaign", "/rtb/forced/acme/nope/cr1", bidBody("US", "android", 300, 250), http.StatusNoContent, 0},
		{"unknown creative", "/rtb/forced/acme/us-banner/nope", bidBody("US", "android", 300, 250), http.StatusNoContent, 0},
		{"unknown exchange", "/rtb/forced/acme/us-banner/cr1?exchange=nope", bidBody("US", "android", 300, 250), http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			resp, err := http.Post(ts.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var out openrtb2.BidResponse
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
				assert.Equal(t, tt.wantW, out.SeatBid[0].Bid[0].W)
			}
		})
	}
}

func TestClick(t *testing.T) {
	ts := newTestServer(t)

	resp, err := noRedirect().Get(ts.URL + "/click?url=http%3A%2F%2Facme.example%2Flanding&bid=b1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://acme.example/landing", resp.Header.Get("Location"))

	resp, err = noRedirect().Get(ts.URL + "/click?bid=b2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	clicks := ts.events.Clicks()
	require.Len(t, clicks, 2)
	assert.Equal(t, "/click?bid=b2", clicks[1])
}

func TestCampaignsAndHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/campaigns")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []campaignView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "us-banner", list[0].ID)
	assert.Equal(t, []string{"country in [us]", "os in [android]"}, list[0].Attributes)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
