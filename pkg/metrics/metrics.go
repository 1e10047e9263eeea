// Package metrics wires campaignctl's three worker loops to opencensus,
// exported on a Prometheus endpoint, grounded on the teacher's tracing setup
// (exporter/prometheus + ocsql) trimmed to a single backend since
// campaignctl runs single-operator with no multi-exporter need.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
)

var (
	mQueueSends       = stats.Int64("campaignctl/queue_sends", "messages handed to the mail transport", stats.UnitDimensionless)
	mDecisionActions  = stats.Int64("campaignctl/decision_actions", "cadence actions enqueued by the decision engine", stats.UnitDimensionless)
	mDetectorMatches  = stats.Int64("campaignctl/detector_matches", "inbound messages correlated to a contact", stats.UnitDimensionless)
)

var views = []*view.View{
	{Name: "campaignctl/queue_sends", Measure: mQueueSends, Aggregation: view.Count()},
	{Name: "campaignctl/decision_actions", Measure: mDecisionActions, Aggregation: view.Count()},
	{Name: "campaignctl/detector_matches", Measure: mDetectorMatches, Aggregation: view.Count()},
}

// StartExporter registers the views above and serves them on /metrics at
// port. Returns a no-op stop func when port <= 0 (tracing disabled).
func StartExporter(serviceName string, port int) (func(), error) {
	if port <= 0 {
		return func() {}, nil
	}

	if err := view.Register(views...); err != nil {
		return nil, fmt.Errorf("registering opencensus views: %w", err)
	}

	exporter, err := prometheus.NewExporter(prometheus.Options{Namespace: serviceName})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}
	view.RegisterExporter(exporter)

	mux := http.NewServeMux()
	mux.Handle("/metrics", exporter)
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go func() {
		_ = server.ListenAndServe()
	}()

	return func() {
		view.UnregisterExporter(exporter)
		_ = server.Close()
	}, nil
}

// RecordQueueSend counts one message handed to the mail transport.
func RecordQueueSend(ctx context.Context) {
	stats.Record(ctx, mQueueSends.M(1))
}

// RecordDecisionAction counts one cadence action the decision engine enqueued.
func RecordDecisionAction(ctx context.Context) {
	stats.Record(ctx, mDecisionActions.M(1))
}

// RecordDetectorMatch counts one inbound message correlated to a contact.
func RecordDetectorMatch(ctx context.Context) {
	stats.Record(ctx, mDetectorMatches.M(1))
}
