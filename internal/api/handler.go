package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mxmCherry/openrtb/v15/openrtb2"
	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/bidcache"
	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/control"
	"rtb-bidder/internal/engine"
	"rtb-bidder/internal/observability"
	"rtb-bidder/internal/rtb"
)

const maxBody = 1 << 20

// Events receives the outbound bus traffic generated by HTTP handlers.
type Events interface {
	SendRequest(req *rtb.BidRequest)
	SendBid(resp *engine.BidResponse)
	SendWin(w control.WinEvent)
	PublishClick(uri string)
}

type BidHandler struct {
	Eng    *engine.BidEngine
	Store  *campaign.Store
	Cache  bidcache.Cache
	Events Events
	BidTTL time.Duration
}

func NewBidHandler(eng *engine.BidEngine, store *campaign.Store, cache bidcache.Cache, events Events, bidTTL time.Duration) *BidHandler {
	return &BidHandler{Eng: eng, Store: store, Cache: cache, Events: events, BidTTL: bidTTL}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	observability.RequestErrors.WithLabelValues(kind).Inc()
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *BidHandler) parse(w http.ResponseWriter, r *http.Request, exchange string) (*rtb.BidRequest, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read_body", err)
		return nil, false
	}
	req, err := rtb.Parse(exchange, body)
	switch {
	case errors.Is(err, rtb.ErrUnknownExchange):
		writeError(w, http.StatusNotFound, "unknown_exchange", err)
		return nil, false
	case err != nil:
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return nil, false
	}
	return req, true
}

// Bid handles POST /rtb/bids/{exchange}.
func (h *BidHandler) Bid(w http.ResponseWriter, r *http.Request) {
	req, ok := h.parse(w, r, chi.URLParam(r, "exchange"))
	if !ok {
		return
	}
	h.Events.SendRequest(req)

	resp := h.Eng.Evaluate(r.Context(), req)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respond(w, r, resp)
}

// Forced handles POST /rtb/forced/{owner}/{campaign}/{creative}. The body is
// parsed as a request from the exchange named by ?exchange (default openrtb).
func (h *BidHandler) Forced(w http.ResponseWriter, r *http.Request) {
	exchange := r.URL.Query().Get("exchange")
	if exchange == "" {
		exchange = "openrtb"
	}
	req, ok := h.parse(w, r, exchange)
	if !ok {
		return
	}

	resp := h.Eng.ResolveSpecific(r.Context(), req,
		chi.URLParam(r, "owner"), chi.URLParam(r, "campaign"), chi.URLParam(r, "creative"))
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.respond(w, r, resp)
}

func (h *BidHandler) respond(w http.ResponseWriter, r *http.Request, resp *engine.BidResponse) {
	if err := h.Cache.Put(r.Context(), resp.ID, resp.CacheFields(), h.BidTTL); err != nil {
		log.Warn().Err(err).Str("bid", resp.ID).Msg("record bid")
	}
	h.Events.SendBid(resp)
	writeJSON(w, http.StatusOK, toOpenRTB(resp, winURL(r, resp.ID)))
}

func winURL(r *http.Request, id string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/rtb/win/%s?price=${AUCTION_PRICE}", scheme, r.Host, id)
}

func toOpenRTB(resp *engine.BidResponse, nurl string) openrtb2.BidResponse {
	bid := openrtb2.Bid{
		ID:    resp.ID,
		ImpID: resp.ImpID,
		Price: resp.Price,
		NURL:  nurl,
		AdM:   resp.AdM,
		CID:   resp.Campaign.ID,
		CrID:  resp.Creative.ImpID,
		W:     int64(resp.W),
		H:     int64(resp.H),
	}
	if resp.Campaign.AdDomain != "" {
		bid.ADomain = []string{resp.Campaign.AdDomain}
	}
	return openrtb2.BidResponse{
		ID:    resp.RequestID,
		BidID: resp.ID,
		Cur:   "USD",
		SeatBid: []openrtb2.SeatBid{
			{Seat: resp.Campaign.Owner, Bid: []openrtb2.Bid{bid}},
		},
	}
}

// Win handles GET /rtb/win/{id}, answering with the markup of the bid. The
// entry is taken out of the cache, so a repeated notification is a 404.
func (h *BidHandler) Win(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fields, err := h.Cache.Take(r.Context(), id)
	if errors.Is(err, bidcache.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown_bid", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "cache", err)
		return
	}

	q := r.URL.Query()
	h.Events.SendWin(control.WinEvent{
		ID:    id,
		Cost:  q.Get("price"),
		Price: fields[bidcache.FieldPrice],
		Lat:   q.Get("lat"),
		Lon:   q.Get("lon"),
		AdID:  q.Get("adid"),
		PubID: q.Get("pubid"),
	})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, fields[bidcache.FieldAdM])
}

// Click handles GET /click, redirecting to ?url when present.
func (h *BidHandler) Click(w http.ResponseWriter, r *http.Request) {
	h.Events.PublishClick(r.URL.RequestURI())
	if target := r.URL.Query().Get("url"); target != "" {
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type campaignView struct {
	Owner      string              `json:"owner"`
	ID         string              `json:"id"`
	Price      float64             `json:"price"`
	AdDomain   string              `json:"adomain,omitempty"`
	Attributes []string            `json:"attributes"`
	Creatives  []campaign.Creative `json:"creatives"`
}

// Campaigns handles GET /campaigns.
func (h *BidHandler) Campaigns(w http.ResponseWriter, _ *http.Request) {
	list := h.Store.List()
	out := make([]campaignView, 0, len(list))
	for _, c := range list {
		v := campaignView{
			Owner:      c.Owner,
			ID:         c.ID,
			Price:      c.Price,
			AdDomain:   c.AdDomain,
			Attributes: make([]string, 0, len(c.Attributes)),
			Creatives:  c.Creatives,
		}
		for _, a := range c.Attributes {
			v.Attributes = append(v.Attributes, a.String())
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, out)
}
