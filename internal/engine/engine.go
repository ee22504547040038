package engine

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog/log"

	"rtb-bidder/internal/campaign"
	"rtb-bidder/internal/latch"
	"rtb-bidder/internal/observability"
	"rtb-bidder/internal/rtb"
)

// LogSelected is the bus log level used for selection diagnostics.
const LogSelected = 5

// Reporter receives best-effort diagnostic events, normally the bus log
// channel.
type Reporter interface {
	SendLog(level int, field, msg string)
}

type Option func(*BidEngine)

// WithBudget bounds how long a round waits for campaign evaluations.
func WithBudget(d time.Duration) Option { return func(e *BidEngine) { e.budget = d } }

// WithReporter publishes selection and rejection reasons to r.
func WithReporter(r Reporter) Option { return func(e *BidEngine) { e.reporter = r } }

// WithNoBidReasons enables per-decision diagnostics on the reporter.
func WithNoBidReasons(on bool) Option { return func(e *BidEngine) { e.reasons = on } }

// WithPicker overrides the tie-break index source. pick(n) must return a
// value in [0, n).
func WithPicker(pick func(n int) int) Option { return func(e *BidEngine) { e.pick = pick } }

// BidEngine selects one campaign per bid request. It is safe for
// concurrent use; campaign updates go through the Store it was built with.
type BidEngine struct {
	store    *campaign.Store
	pool     pond.Pool
	budget   time.Duration
	reporter Reporter
	reasons  bool
	pick     func(n int) int

	serving  atomic.Bool
	throttle atomic.Int32
}

// NewEngine returns a serving engine. pool is shared by all rounds and
// bounds how many campaign evaluations run at once.
func NewEngine(store *campaign.Store, pool pond.Pool, opts ...Option) *BidEngine {
	e := &BidEngine{
		store: store,
		pool:  pool,
		pick:  rand.IntN,
	}
	e.serving.Store(true)
	e.throttle.Store(100)
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *BidEngine) SetServing(on bool) { e.serving.Store(on) }
func (e *BidEngine) Serving() bool      { return e.serving.Load() }

// SetThrottle sets the percentage of requests that are evaluated at all.
func (e *BidEngine) SetThrottle(pct int) {
	pct = max(0, min(100, pct))
	e.throttle.Store(int32(pct))
}

func (e *BidEngine) Throttle() int { return int(e.throttle.Load()) }

// Evaluate runs one round for req and returns the winning response, or nil
// for no-bid. Evaluation faults, timeouts and an empty campaign set all
// end in nil rather than an error.
func (e *BidEngine) Evaluate(ctx context.Context, req *rtb.BidRequest) *BidResponse {
	if !e.serving.Load() {
		observability.Rounds.WithLabelValues("stopped").Inc()
		return nil
	}
	if pct := e.throttle.Load(); pct < 100 && int32(rand.IntN(100)) >= pct {
		observability.Rounds.WithLabelValues("throttled").Inc()
		return nil
	}

	snap := e.store.Current()
	observability.CampaignsActive.Set(float64(snap.Len()))
	if snap.Len() == 0 {
		observability.Rounds.WithLabelValues("empty").Inc()
		return nil
	}

	if e.budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.budget)
		defer cancel()
	}

	start := time.Now()
	l := latch.NewAll[Candidate](snap.Len())
	for _, c := range snap.Campaigns() {
		e.pool.Submit(func() { e.runTask(ctx, l, c, req) })
	}

	out := l.Await(ctx)
	observability.RoundDuration.Observe(time.Since(start).Seconds())
	observability.RoundCandidates.Observe(float64(len(out.Results)))
	if out.State == latch.Expired {
		observability.ExpiredRounds.Inc()
		log.Debug().
			Str("request", req.ID).
			Int("reported", out.Reported).
			Int("campaigns", snap.Len()).
			Msg("round budget exceeded; deciding on partial results")
	}

	if len(out.Results) == 0 {
		observability.Rounds.WithLabelValues("nobid").Inc()
		return nil
	}

	sel := out.Results[e.pick(len(out.Results))]
	resp := newBidResponse(req, sel.Campaign, sel.Creative)
	observability.Rounds.WithLabelValues("bid").Inc()
	log.Debug().
		Str("request", req.ID).
		Str("campaign", sel.Campaign.Key().String()).
		Str("creative", sel.Creative.ImpID).
		Int("candidates", len(out.Results)).
		Msg("campaign selected")
	e.report("selector:campaign-selected", sel.Campaign.Key().String())
	return resp
}

// runTask evaluates one campaign for a round. A task that starts after its
// round has closed only signals.
func (e *BidEngine) runTask(ctx context.Context, l *latch.Latch[Candidate], c *campaign.Campaign, req *rtb.BidRequest) {
	select {
	case <-l.Done():
		observability.SkippedEvaluations.Inc()
		l.Signal()
		return
	case <-ctx.Done():
		observability.SkippedEvaluations.Inc()
		l.Signal()
		return
	default:
	}

	var accepted bool
	if cand, ok := e.evaluateOne(c, req); ok {
		accepted = l.SignalWithPayload(cand)
	} else {
		accepted = l.Signal()
	}
	if !accepted {
		observability.LateResults.Inc()
	}
}

func (e *BidEngine) evaluateOne(c *campaign.Campaign, req *rtb.BidRequest) (cand Candidate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			observability.EvaluatorFaults.Inc()
			log.Error().
				Str("campaign", c.Key().String()).
				Interface("panic", r).
				Msg("campaign evaluation panicked")
			cand, ok = Candidate{}, false
		}
	}()

	cr, matched, err := c.Evaluate(req)
	if err != nil {
		observability.EvaluatorFaults.Inc()
		log.Debug().Err(err).Str("campaign", c.Key().String()).Msg("campaign evaluation failed")
		return Candidate{}, false
	}
	if !matched {
		return Candidate{}, false
	}
	return Candidate{Campaign: c, Creative: cr}, true
}

// report never lets a reporter failure reach the bid path.
func (e *BidEngine) report(field, msg string) {
	if e.reporter == nil || !e.reasons {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Str("field", field).Msg("reporter failed")
		}
	}()
	e.reporter.SendLog(LogSelected, field, msg)
}
