package control

import (
	"time"

	"rtb-bidder/internal/bus"
	"rtb-bidder/internal/engine"
	"rtb-bidder/internal/rtb"
)

// Topics names the bus topic of every channel. An empty name disables the
// channel.
type Topics struct {
	Commands  string `mapstructure:"commands"`
	Responses string `mapstructure:"responses"`
	Requests  string `mapstructure:"requests"`
	Bids      string `mapstructure:"bids"`
	Wins      string `mapstructure:"wins"`
	Logs      string `mapstructure:"logs"`
	Clicks    string `mapstructure:"clicks"`
}

func DefaultTopics() Topics {
	return Topics{
		Commands:  "commands",
		Responses: "responses",
		Requests:  "requests",
		Bids:      "bids",
		Wins:      "wins",
		Logs:      "log",
		Clicks:    "clicks",
	}
}

type BidEvent struct {
	ID        string  `json:"id"`
	RequestID string  `json:"request_id"`
	Exchange  string  `json:"exchange"`
	Owner     string  `json:"owner"`
	Campaign  string  `json:"campaign"`
	Creative  string  `json:"creative"`
	Price     float64 `json:"price"`
	W         int     `json:"w"`
	H         int     `json:"h"`
	Instance  string  `json:"instance"`
}

type WinEvent struct {
	ID       string `json:"id"`
	Cost     string `json:"cost,omitempty"` // clearing price reported by the exchange
	Price    string `json:"price"`          // our bid price
	Lat      string `json:"lat,omitempty"`
	Lon      string `json:"lon,omitempty"`
	AdID     string `json:"adid,omitempty"`
	PubID    string `json:"pubid,omitempty"`
	Instance string `json:"instance"`
}

type LogMessage struct {
	Level    int       `json:"sev"`
	Field    string    `json:"field"`
	Message  string    `json:"message"`
	Instance string    `json:"instance"`
	Time     time.Time `json:"time"`
}

type ClickEvent struct {
	URI      string    `json:"uri"`
	Instance string    `json:"instance"`
	Time     time.Time `json:"time"`
}

// Publishers is the set of outbound channels of one bidder instance.
type Publishers struct {
	instance string
	logLevel int

	responses *Publisher
	requests  *Publisher
	bids      *Publisher
	wins      *Publisher
	logs      *Publisher
	clicks    *Publisher
}

// NewPublishers opens a publisher for every named topic. Log events above
// logLevel are not sent.
func NewPublishers(b bus.Bus, t Topics, instance string, queueSize, logLevel int) *Publishers {
	open := func(topic string) *Publisher {
		if topic == "" || b == nil {
			return nil
		}
		return NewPublisher(b, topic, queueSize)
	}
	return &Publishers{
		instance:  instance,
		logLevel:  logLevel,
		responses: open(t.Responses),
		requests:  open(t.Requests),
		bids:      open(t.Bids),
		wins:      open(t.Wins),
		logs:      open(t.Logs),
		clicks:    open(t.Clicks),
	}
}

func (p *Publishers) Respond(v any) { p.responses.Add(v) }

func (p *Publishers) SendRequest(req *rtb.BidRequest) { p.requests.Add(req) }

func (p *Publishers) SendBid(r *engine.BidResponse) {
	p.bids.Add(BidEvent{
		ID:        r.ID,
		RequestID: r.RequestID,
		Exchange:  r.Exchange,
		Owner:     r.Campaign.Owner,
		Campaign:  r.Campaign.ID,
		Creative:  r.Creative.ImpID,
		Price:     r.Price,
		W:         r.W,
		H:         r.H,
		Instance:  p.instance,
	})
}

func (p *Publishers) SendWin(w WinEvent) {
	w.Instance = p.instance
	p.wins.Add(w)
}

// SendLog satisfies engine.Reporter.
func (p *Publishers) SendLog(level int, field, msg string) {
	if level > p.logLevel {
		return
	}
	p.logs.Add(LogMessage{
		Level:    level,
		Field:    field,
		Message:  msg,
		Instance: p.instance,
		Time:     time.Now().UTC(),
	})
}

func (p *Publishers) PublishClick(uri string) {
	p.clicks.Add(ClickEvent{URI: uri, Instance: p.instance, Time: time.Now().UTC()})
}

// Close flushes every channel.
func (p *Publishers) Close() {
	for _, pub := range []*Publisher{p.responses, p.requests, p.bids, p.wins, p.logs, p.clicks} {
		pub.Close()
	}
}
