package observability

import "time"

const (
	MUsecaseRequests         MetricKey = "usecase_requests_total"
	MUsecaseDuration         MetricKey = "usecase_duration_seconds"
	MHTTPRequests            MetricKey = "http_requests_total"
	MHTTPRequestDuration     MetricKey = "http_request_duration_seconds"
	MExternalRequests        MetricKey = "external_requests_total"
	MExternalRequestDuration MetricKey = "external_request_duration_seconds"
	MPaymentCallbacks        MetricKey = "payment_callbacks_total"
	MTaskFailures            MetricKey = "task_failures_total"
)

// MetricSpec describes how a metric key is registered with a backend.
type MetricSpec struct {
	Key    MetricKey
	Help   string
	Labels []string
}

// CounterSpecs lists every counter the service emits.
var CounterSpecs = []MetricSpec{
	{Key: MUsecaseRequests, Help: "Total number of use case invocations.", Labels: []string{"use_case", "outcome"}},
	{Key: MHTTPRequests, Help: "Total number of HTTP requests.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequests, Help: "Total number of calls to external peers.", Labels: []string{"peer", "endpoint", "outcome"}},
	{Key: MPaymentCallbacks, Help: "Payment gateway callbacks by result.", Labels: []string{"result"}},
	{Key: MTaskFailures, Help: "Failed side-effect task attempts.", Labels: []string{"event"}},
}

// HistogramSpecs lists every histogram the service emits.
var HistogramSpecs = []MetricSpec{
	{Key: MUsecaseDuration, Help: "Duration of use case execution in seconds.", Labels: []string{"use_case"}},
	{Key: MHTTPRequestDuration, Help: "Duration of HTTP requests in seconds.", Labels: []string{"method", "route", "status"}},
	{Key: MExternalRequestDuration, Help: "Duration of calls to external peers in seconds.", Labels: []string{"peer", "endpoint"}},
}

// ExternalCall records one call to an external peer on external_requests_total and
// external_request_duration_seconds.
func ExternalCall(m Metrics, peer, endpoint string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.Counter(MExternalRequests).Add(1,
		L("peer", peer),
		L("endpoint", endpoint),
		L("outcome", outcome),
	)
	m.Histogram(MExternalRequestDuration).Observe(time.Since(start).Seconds(),
		L("peer", peer),
		L("endpoint", endpoint),
	)
}
