package rtb

import "strings"

// Device holds the device and geo fields consumed by campaign predicates.
type Device struct {
	OS      string  `json:"os,omitempty"`
	Make    string  `json:"make,omitempty"`
	Model   string  `json:"model,omitempty"`
	Carrier string  `json:"carrier,omitempty"`
	IP      string  `json:"ip,omitempty"`
	Country string  `json:"country,omitempty"` // upper-cased
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// BidRequest is the exchange-neutral form of an incoming ad-slot request.
// It is never modified after parsing, so any number of evaluation tasks may
// read it concurrently.
type BidRequest struct {
	ID       string  `json:"id"`
	ImpID    string  `json:"impid"`
	W        int     `json:"w"`
	H        int     `json:"h"`
	BidFloor float64 `json:"bidfloor,omitempty"`
	Exchange string  `json:"exchange"`
	Bundle   string  `json:"bundle,omitempty"` // app bundle, lower-cased
	Domain   string  `json:"domain,omitempty"` // site domain, lower-cased
	Device   Device  `json:"device"`
}

// Env projects the request into the variable set predicates evaluate
// against. Every key is always present so predicates can be compiled against
// a zero request.
func (r *BidRequest) Env() map[string]any {
	return map[string]any{
		"id":       r.ID,
		"impid":    r.ImpID,
		"w":        r.W,
		"h":        r.H,
		"bidfloor": r.BidFloor,
		"exchange": r.Exchange,
		"appid":    r.Bundle,
		"domain":   r.Domain,
		"os":       r.Device.OS,
		"make":     r.Device.Make,
		"model":    r.Device.Model,
		"carrier":  r.Device.Carrier,
		"ip":       r.Device.IP,
		"country":  r.Device.Country,
		"region":   r.Device.Region,
		"city":     r.Device.City,
		"lat":      r.Device.Lat,
		"lon":      r.Device.Lon,
	}
}

func (r *BidRequest) normalize() {
	r.Bundle = strings.ToLower(strings.TrimSpace(r.Bundle))
	r.Domain = strings.ToLower(strings.TrimSpace(r.Domain))
	r.Device.OS = strings.ToLower(strings.TrimSpace(r.Device.OS))
	r.Device.Country = strings.ToUpper(strings.TrimSpace(r.Device.Country))
}
