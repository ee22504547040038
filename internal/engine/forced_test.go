package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/predicate"
	"rtb-bidder/internal/rtb"
)

func forcedCampaign(t testing.TB) *campaign.Campaign {
	sized, err := predicate.NewExpr(`creative.w == w && creative.h == h`, campaign.SampleEnv())
	require.NoError(t, err)
	return &campaign.Campaign{
		Owner: "acme",
		ID:    "camp1",
		Price: 3,
		Attributes: []predicate.Node{
			predicate.NewRule("country", true, "US"),
			sized,
		},
		Creatives: []campaign.Creative{{
			ImpID:      "creativeX",
			W:          320,
			H:          50,
			ForwardURL: "http://acme.example/fwd",
			AdM:        `<img src="{image_url}">`,
			ImageURL:   "http://acme.example/img.png",
		}},
	}
}

func TestResolveSpecific(t *testing.T) {
	rec := &recorder{}
	eng, _ := newTestEngine(t, []*campaign.Campaign{forcedCampaign(t)},
		WithReporter(rec), WithNoBidReasons(true))

	us := rtb.Device{Country: "US"}
	tests := []struct {
		name       string
		req        rtb.BidRequest
		owner, cid string
		creative   string
		wantBid    bool
		wantReason string
	}{
		{"unknown owner", rtb.BidRequest{ID: "1", W: 320, H: 50, Device: us}, "nobody", "camp1", "creativeX", false, "selector:no-campaign"},
		{"unknown campaign", rtb.BidRequest{ID: "2", W: 320, H: 50, Device: us}, "acme", "nope", "creativeX", false, "selector:no-campaign"},
		{"unknown creative", rtb.BidRequest{ID: "3", W: 320, H: 50, Device: us}, "acme", "camp1", "nope", false, "selector:no-creative"},
		{"predicate fails", rtb.BidRequest{ID: "4", W: 320, H: 50, Device: rtb.Device{Country: "CA"}}, "acme", "camp1", "creativeX", false, "selector:attribute-failed"},
		{"declared size", rtb.BidRequest{ID: "5", W: 320, H: 50, Device: us}, "acme", "camp1", "creativeX", true, ""},
		{"overridden size", rtb.BidRequest{ID: "6", W: 300, H: 250, Device: us}, "acme", "camp1", "creativeX", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := eng.ResolveSpecific(context.Background(), &tt.req, tt.owner, tt.cid, tt.creative)
			if !tt.wantBid {
				assert.Nil(t, resp)
				logs := rec.all()
				require.NotEmpty(t, logs)
				assert.True(t, strings.Contains(logs[len(logs)-1], tt.wantReason), logs[len(logs)-1])
				return
			}
			require.NotNil(t, resp)
			assert.Equal(t, tt.req.W, resp.W)
			assert.Equal(t, tt.req.H, resp.H)
			assert.Equal(t, "http://acme.example/fwd", resp.ForwardURL)
			assert.Equal(t, `<img src="http://acme.example/img.png">`, resp.AdM)
			assert.Equal(t, 3.0, resp.Price)
		})
	}

	stored, _ := eng.store.Current().Lookup("acme", "camp1")
	assert.Equal(t, 320, stored.Creatives[0].W)
	assert.Equal(t, 50, stored.Creatives[0].H)
}

func TestResolveSpecific_EvaluatorErrorIsNoBid(t *testing.T) {
	c := forcedCampaign(t)
	c.Attributes = append(c.Attributes, errNode{})
	eng, _ := newTestEngine(t, []*campaign.Campaign{c})

	assert.Nil(t, eng.ResolveSpecific(context.Background(), &rtb.BidRequest{ID: "r", W: 1, H: 1, Device: rtb.Device{Country: "US"}}, "acme", "camp1", "creativeX"))
}

func TestResolveSpecific_ConcurrentOverridesAreIsolated(t *testing.T) {
	eng, _ := newTestEngine(t, []*campaign.Campaign{forcedCampaign(t)})

	sizes := [][2]int{{300, 250}, {728, 90}, {320, 50}, {160, 600}}
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sz := sizes[i%len(sizes)]
			country := "US"
			if i%5 == 0 {
				country = "CA"
			}
			req := &rtb.BidRequest{ID: "r", W: sz[0], H: sz[1], Device: rtb.Device{Country: country}}
			resp := eng.ResolveSpecific(context.Background(), req, "acme", "camp1", "creativeX")
			if country == "CA" {
				assert.Nil(t, resp)
				return
			}
			if assert.NotNil(t, resp) {
				assert.Equal(t, sz[0], resp.W)
				assert.Equal(t, sz[1], resp.H)
				assert.Equal(t, sz[0], resp.Creative.W)
			}
		}(i)
	}
	wg.Wait()

	stored, _ := eng.store.Current().Lookup("acme", "camp1")
	assert.Equal(t, 320, stored.Creatives[0].W)
	assert.Equal(t, 50, stored.Creatives[0].H)
}

func TestResolveSpecific_CanceledContextIsNoBid(t *testing.T) {
	eng, _ := newTestEngine(t, []*campaign.Campaign{forcedCampaign(t)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := &rtb.BidRequest{ID: "r", W: 320, H: 50, Device: rtb.Device{Country: "US"}}
	assert.Nil(t, eng.ResolveSpecific(ctx, req, "acme", "camp1", "creativeX"))
	assert.NotNil(t, eng.ResolveSpecific(context.Background(), req, "acme", "camp1", "creativeX"))
}
