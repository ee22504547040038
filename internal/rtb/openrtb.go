package rtb

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mxmCherry/openrtb/v15/openrtb2"
)

var (
	ErrUnknownExchange = errors.New("unknown exchange")
	ErrNoImpression    = errors.New("bid request has no impression")
)

// Adapter applies exchange-specific handling after the generic OpenRTB
// fields have been copied into the request.
type Adapter func(src *openrtb2.BidRequest, dst *BidRequest) error

var adapters = map[string]Adapter{
	"openrtb": func(_ *openrtb2.BidRequest, dst *BidRequest) error {
		dst.Exchange = "openrtb"
		return nil
	},
	"mobclix": func(_ *openrtb2.BidRequest, dst *BidRequest) error {
		dst.Exchange = "mobclix"
		return nil
	},
}

// Exchanges lists the registered exchange names.
func Exchanges() []string {
	out := make([]string, 0, len(adapters))
	for name := range adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Parse decodes an OpenRTB 2.x body received from the named exchange.
func Parse(exchange string, body []byte) (*BidRequest, error) {
	adapt, ok := adapters[exchange]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExchange, exchange)
	}

	var src openrtb2.BidRequest
	if err := json.Unmarshal(body, &src); err != nil {
		return nil, fmt.Errorf("decode openrtb request: %w", err)
	}
	if len(src.Imp) == 0 {
		return nil, ErrNoImpression
	}

	req := fromOpenRTB(&src)
	if err := adapt(&src, req); err != nil {
		return nil, fmt.Errorf("%s adapter: %w", exchange, err)
	}
	req.normalize()
	return req, nil
}

func fromOpenRTB(src *openrtb2.BidRequest) *BidRequest {
	imp := src.Imp[0]
	req := &BidRequest{
		ID:       src.ID,
		ImpID:    imp.ID,
		BidFloor: imp.BidFloor,
	}

	if b := imp.Banner; b != nil {
		switch {
		case b.W != nil && b.H != nil:
			req.W, req.H = int(*b.W), int(*b.H)
		case len(b.Format) > 0:
			req.W, req.H = int(b.Format[0].W), int(b.Format[0].H)
		}
	} else if v := imp.Video; v != nil {
		req.W, req.H = int(v.W), int(v.H)
	}

	if src.App != nil {
		req.Bundle = src.App.Bundle
	}
	if src.Site != nil {
		req.Domain = src.Site.Domain
	}

	if d := src.Device; d != nil {
		req.Device = Device{
			OS:      d.OS,
			Make:    d.Make,
			Model:   d.Model,
			Carrier: d.Carrier,
			IP:      d.IP,
		}
		if g := d.Geo; g != nil {
			req.Device.Country = g.Country
			req.Device.Region = g.Region
			req.Device.City = g.City
			req.Device.Lat = g.Lat
			req.Device.Lon = g.Lon
		}
	}
	return req
}
