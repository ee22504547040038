package campaign

import (
	"rtb-bidder/internal/predicate"
	"rtb-bidder/internal/rtb"
)

// Key identifies a campaign within a snapshot.
type Key struct {
	Owner string
	ID    string
}

func (k Key) String() string { return k.Owner + "/" + k.ID }

// Creative is one ad unit of a campaign. It is always handled by value;
// size overrides are applied to a copy, never to the stored creative.
type Creative struct {
	ImpID      string  `json:"impid"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	ForwardURL string  `json:"forwardurl"`
	ImageURL   string  `json:"imageurl,omitempty"`
	AdM        string  `json:"adm,omitempty"`
	Price      float64 `json:"price,omitempty"`
}

// Fits reports whether the creative can fill a w x h slot. A creative
// without declared dimensions fits any slot.
func (cr Creative) Fits(w, h int) bool {
	if cr.W == 0 && cr.H == 0 {
		return true
	}
	return cr.W == w && cr.H == h
}

// Campaign is immutable once it has been published to a Store.
type Campaign struct {
	Owner      string
	ID         string
	Price      float64
	AdDomain   string
	Attributes []predicate.Node // AND-combined
	Creatives  []Creative
}

func (c *Campaign) Key() Key { return Key{Owner: c.Owner, ID: c.ID} }

// Creative returns a copy of the creative with the given impression id.
func (c *Campaign) Creative(impID string) (Creative, bool) {
	for _, cr := range c.Creatives {
		if cr.ImpID == impID {
			return cr, true
		}
	}
	return Creative{}, false
}

// Check runs every attribute against req with cr as the creative context.
// On rejection it returns the node that failed.
func (c *Campaign) Check(req *rtb.BidRequest, cr Creative) (bool, predicate.Node, error) {
	return predicate.All(c.Attributes, Env(req, cr))
}

// Evaluate returns the first creative that fits the requested slot and
// passes every attribute. ok is false when the campaign does not match.
func (c *Campaign) Evaluate(req *rtb.BidRequest) (cr Creative, ok bool, err error) {
	for _, cand := range c.Creatives {
		if !cand.Fits(req.W, req.H) {
			continue
		}
		pass, _, err := c.Check(req, cand)
		if err != nil {
			return Creative{}, false, err
		}
		if pass {
			return cand, true, nil
		}
	}
	return Creative{}, false, nil
}

// Env builds the predicate variables for req with cr exposed as "creative".
func Env(req *rtb.BidRequest, cr Creative) predicate.Env {
	env := req.Env()
	env["creative"] = map[string]any{
		"impid": cr.ImpID,
		"w":     cr.W,
		"h":     cr.H,
		"price": cr.Price,
	}
	return env
}

// SampleEnv is the variable set expressions are compiled against.
func SampleEnv() predicate.Env {
	return Env(&rtb.BidRequest{}, Creative{})
}
