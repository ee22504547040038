package engine

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"rtb-bidder/internal/bidcache"
	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/rtb"
)

// Candidate is a campaign/creative pair that matched a request.
type Candidate struct {
	Campaign *campaign.Campaign
	Creative campaign.Creative
}

// BidResponse binds the winning campaign and creative to the request that
// produced it. It is not modified after construction.
type BidResponse struct {
	ID         string // correlation id for the win notification
	RequestID  string
	ImpID      string
	Exchange   string
	Campaign   *campaign.Campaign
	Creative   campaign.Creative
	ForwardURL string
	AdM        string
	Price      float64
	W          int
	H          int
}

func newBidResponse(req *rtb.BidRequest, c *campaign.Campaign, cr campaign.Creative) *BidResponse {
	price := cr.Price
	if price <= 0 {
		price = c.Price
	}
	r := &BidResponse{
		ID:         uuid.NewString(),
		RequestID:  req.ID,
		ImpID:      req.ImpID,
		Exchange:   req.Exchange,
		Campaign:   c,
		Creative:   cr,
		ForwardURL: cr.ForwardURL,
		Price:      price,
		W:          cr.W,
		H:          cr.H,
	}
	r.AdM = r.render(cr.AdM)
	return r
}

func (r *BidResponse) render(tmpl string) string {
	if tmpl == "" {
		return ""
	}
	return strings.NewReplacer(
		"{bid_id}", r.ID,
		"{forward_url}", r.ForwardURL,
		"{image_url}", r.Creative.ImageURL,
		"{campaign_id}", r.Campaign.ID,
		"{creative_id}", r.Creative.ImpID,
		"{exchange}", r.Exchange,
		"{price}", strconv.FormatFloat(r.Price, 'f', -1, 64),
	).Replace(tmpl)
}

// CacheFields is what gets stored for a later win notification.
func (r *BidResponse) CacheFields() map[string]string {
	return map[string]string{
		bidcache.FieldAdM:   r.AdM,
		bidcache.FieldPrice: strconv.FormatFloat(r.Price, 'f', -1, 64),
	}
}
