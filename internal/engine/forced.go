package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/rtb"
)

// ResolveSpecific bids with one named campaign and creative, bypassing the
// fan-out. The creative is sized to the request on a private copy before the
// campaign's attributes are checked, so concurrent calls never see each
// other's sizes. Lookup misses, rejections and a done ctx return nil.
func (e *BidEngine) ResolveSpecific(ctx context.Context, req *rtb.BidRequest, owner, campaignID, creativeID string) *BidResponse {
	if err := ctx.Err(); err != nil {
		e.noBid(req, "selector:canceled", err.Error())
		return nil
	}

	c, ok := e.store.Current().Lookup(owner, campaignID)
	if !ok {
		e.noBid(req, "selector:no-campaign", fmt.Sprintf("can't find campaign %s/%s", owner, campaignID))
		return nil
	}

	cr, ok := c.Creative(creativeID)
	if !ok {
		e.noBid(req, "selector:no-creative", fmt.Sprintf("can't find creative %s for %s/%s", creativeID, owner, campaignID))
		return nil
	}

	cr.W, cr.H = req.W, req.H

	pass, failed, err := c.Check(req, cr)
	if err != nil {
		e.noBid(req, "selector:attribute-error", fmt.Sprintf("%s: %v", c.Key(), err))
		return nil
	}
	if !pass {
		e.noBid(req, "selector:attribute-failed", fmt.Sprintf("%s: %s doesn't match the bid request", c.Key(), failed))
		return nil
	}
	return newBidResponse(req, c, cr)
}

func (e *BidEngine) noBid(req *rtb.BidRequest, field, reason string) {
	log.Warn().Str("request", req.ID).Str("reason", field).Msg(reason)
	e.report(field, reason)
}
