package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// realTimeCollectorName is the name of the MetricGroup for the
	// realTimeCollector.
	realTimeCollectorName = "realTime"

	labelAPI    = "api"
	labelMethod = "method"
	labelPath   = "path"
	labelCode   = "code"
)

// realTimeCollector is a collector dedicated to collecting real-time metrics
// of the REST APIs as requests are served.
type realTimeCollector struct {
	requestDuration *prometheus.HistogramVec
}

// newRealTimeCollector returns a new instance of the real-time collector.
func newRealTimeCollector(_ *PrometheusConfig) *realTimeCollector {
	return &realTimeCollector{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "vendue_request_duration_seconds",
				Help: "latency of REST requests",
				Buckets: []float64{
					0.001, 0.005, 0.01, 0.025, 0.05, 0.1,
					0.25, 0.5, 1,
				},
			},
			[]string{labelAPI, labelMethod, labelPath, labelCode},
		),
	}
}

// RegisterMetricFuncs signals to the underlying hybrid collector that it
// should register all metrics that it aims to export with the given
// registry.
//
// NOTE: Part of the MetricGroup interface.
func (r *realTimeCollector) RegisterMetricFuncs(
	reg prometheus.Registerer) error {

	return reg.Register(r.requestDuration)
}

// Name is the name of the metric group. When exported to prometheus, it's
// expected that all metric under this group have the same prefix.
//
// NOTE: Part of the MetricGroup interface.
func (r *realTimeCollector) Name() string {
	return realTimeCollectorName
}

// fetchRealTimeCollector is a helper function that we'll use to allow those at
// the package level to obtain an active pointer to the current
// realTimeCollector instance.
func fetchRealTimeCollector() *realTimeCollector {
	metricsMtx.Lock()
	defer metricsMtx.Unlock()

	realTimeGroup, ok := activeGroups[realTimeCollectorName]
	if !ok {
		return nil
	}

	return realTimeGroup.(*realTimeCollector)
}

// ObserveRequest records the latency of a served REST request. It is a no-op
// if the exporter isn't active.
func ObserveRequest(api, method, path string, code int,
	duration time.Duration) {

	r := fetchRealTimeCollector()
	if r == nil {
		return
	}

	// Unmatched routes have no path template. They are grouped together
	// to keep the label cardinality bounded.
	if path == "" {
		path = "<unmatched>"
	}

	r.requestDuration.With(prometheus.Labels{
		labelAPI:    api,
		labelMethod: method,
		labelPath:   path,
		labelCode:   strconv.Itoa(code),
	}).Observe(duration.Seconds())
}

// A compile time flag to ensure the realTimeCollectorName satisfies the
// MetricGroup interface.
var _ MetricGroup = (*realTimeCollector)(nil)

func init() {
	metricsMtx.Lock()
	metricGroups[realTimeCollectorName] = func(cfg *PrometheusConfig) (
		MetricGroup, error) {

		return newRealTimeCollector(cfg), nil
	}
	metricsMtx.Unlock()
}
