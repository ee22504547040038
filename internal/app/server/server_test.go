package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtb-bidder/internal/config"
	"rtb-bidder/internal/control"
)

const campaignFile = `
campaigns:
  - owner: acme
    id: us-banner
    price: 1.2
    attributes:
      - dimension: country
        type: INCLUDE
        values: [US]
    creatives:
      - impid: cr1
        w: 300
        h: 250
        forwardurl: http://acme.example
  - owner: acme
    id: wide
    price: 0.8
    attributes:
      - expr: w >= 700
    creatives:
      - impid: cr2
        w: 728
        h: 90
        forwardurl: http://acme.example/wide
`

func testConfig(t *testing.T, campaigns string) config.Config {
	var cfg config.Config
	cfg.Bidder.Instance = "test-bidder"
	cfg.Bidder.RoundBudget = time.Second
	cfg.Bidder.WorkerPoolSize = 4
	cfg.Bidder.BidTTL = time.Minute
	cfg.Bidder.BusLogLevel = 5
	cfg.Bidder.Throttle = 100
	cfg.Bus.QueueSize = 16
	cfg.Bus.Topics = config.BusTopics(control.DefaultTopics())
	cfg.Cache.Driver = "memory"

	if campaigns != "" {
		path := filepath.Join(t.TempDir(), "campaigns.yaml")
		require.NoError(t, os.WriteFile(path, []byte(campaigns), 0o600))
		cfg.Bidder.CampaignFile = path
	}
	return cfg
}

func TestBuild_ServesCampaignFile(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t, campaignFile))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	assert.Equal(t, 2, app.Store.Size())

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCID    string
	}{
		{
			name:       "us banner",
			body:       `{"id":"r1","imp":[{"id":"1","banner":{"w":300,"h":250}}],"device":{"geo":{"country":"US"}}}`,
			wantStatus: http.StatusOK,
			wantCID:    "us-banner",
		},
		{
			name:       "leaderboard",
			body:       `{"id":"r2","imp":[{"id":"1","banner":{"w":728,"h":90}}]}`,
			wantStatus: http.StatusOK,
			wantCID:    "wide",
		},
		{
			name:       "nothing fits",
			body:       `{"id":"r3","imp":[{"id":"1","banner":{"w":999,"h":999}}]}`,
			wantStatus: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rtb/bids/openrtb", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			app.Handler.ServeHTTP(w, req)

			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus != http.StatusOK {
				return
			}
			var out struct {
				SeatBid []struct {
					Bid []struct {
						CID string `json:"cid"`
					} `json:"bid"`
				} `json:"seatbid"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
			assert.Equal(t, tt.wantCID, out.SeatBid[0].Bid[0].CID)
		})
	}
}

func TestBuild_CommandsReachEngine(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t, ""))
	require.NoError(t, err)
	t.Cleanup(app.Close)

	reply := app.Controller.Handle(context.Background(), []byte(`{"cmd":2,"id":"1"}`))
	require.NotNil(t, reply)
	assert.False(t, app.Engine.Serving())

	req := httptest.NewRequest(http.MethodPost, "/rtb/bids/openrtb",
		strings.NewReader(`{"id":"r","imp":[{"id":"1","banner":{"w":300,"h":250}}]}`))
	w := httptest.NewRecorder()
	app.Handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"bad campaign file", func(c *config.Config) { c.Bidder.CampaignFile = "/does/not/exist.yaml" }},
		{"unknown cache driver", func(c *config.Config) { c.Cache.Driver = "memcached" }},
		{"redis without addr", func(c *config.Config) { c.Cache.Driver = "redis" }},
		{"no command topic", func(c *config.Config) { c.Bus.Topics.Commands = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "")
			tt.mutate(&cfg)
			_, err := Build(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestBuild_DuplicateCampaignsRejected(t *testing.T) {
	dup := campaignFile + `
  - owner: acme
    id: wide
    creatives:
      - impid: cr3
        forwardurl: http://acme.example
`
	_, err := Build(context.Background(), testConfig(t, dup))
	assert.Error(t, err)
}
