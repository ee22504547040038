package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidder_http_requests_total",
			Help: "Total HTTP requests by status code",
		}, []string{"code"},
	)
	Latency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidder_http_request_duration_seconds",
		Help:    "HTTP request latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bidder_http_in_flight",
		Help: "In-flight HTTP requests",
	})
	RequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidder_http_request_errors_total",
			Help: "Total HTTP errors by type",
		}, []string{"type"},
	)

	Rounds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidder_rounds_total",
			Help: "Evaluation rounds by outcome",
		}, []string{"outcome"},
	)
	RoundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidder_round_duration_seconds",
		Help:    "Time from fan-out to decision",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
	})
	RoundCandidates = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "bidder_round_candidates",
		Help:    "Matching campaigns per round",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	})
	EvaluatorFaults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidder_evaluator_faults_total",
		Help: "Campaign evaluations that failed and were treated as no match",
	})
	ExpiredRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidder_rounds_expired_total",
		Help: "Rounds that hit the time budget before every campaign reported",
	})
	LateResults = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidder_late_results_total",
		Help: "Campaign results that arrived after their round closed and were discarded",
	})
	SkippedEvaluations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bidder_evaluations_skipped_total",
		Help: "Queued campaign evaluations dropped because their round had already closed",
	})
	CampaignsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "bidder_campaigns_active",
		Help: "Campaigns in the current snapshot",
	})
	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidder_commands_total",
			Help: "Control commands by command and status",
		}, []string{"cmd", "status"},
	)
	PublishDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidder_publish_dropped_total",
			Help: "Outbound events dropped because a channel queue was full or the bus failed",
		}, []string{"channel"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal, Latency, InFlight, RequestErrors,
		Rounds, RoundDuration, RoundCandidates, EvaluatorFaults,
		ExpiredRounds, LateResults, SkippedEvaluations,
		CampaignsActive, Commands, PublishDropped,
	)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		Latency.Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(strconv.Itoa(rr.code)).Inc()
	})
}
