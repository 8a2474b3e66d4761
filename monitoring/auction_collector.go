package monitoring

import (
	"strconv"
	"sync"

	"github.com/optionvault/vendue/auction"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// auctionCollectorName is the name of the MetricGroup for the
	// auctionCollector.
	auctionCollectorName = "auction"

	// auctionStatus is a gauge that is set to 1 for the current status of
	// every auction.
	auctionStatus = "auction_status"

	// auctionCapacity is a gauge that keeps track of the number of
	// contracts an auction can sell.
	auctionCapacity = "auction_total_contracts"

	// auctionSold is a gauge that keeps track of the number of contracts
	// included by the last matching run of an auction.
	auctionSold = "auction_total_contracts_sold"

	// auctionUtilization is a gauge that keeps track of the share of the
	// capacity that was sold.
	auctionUtilization = "auction_utilization"

	// auctionClearingPrice is a gauge that keeps track of the clearing
	// price of an auction.
	auctionClearingPrice = "auction_clearing_price"

	// auctionPremium is a gauge that keeps track of the premium swept to
	// the vault.
	auctionPremium = "auction_total_premium"

	labelEpoch  = "epoch"
	labelStatus = "status"
)

// allStatuses are all states an auction can be in.
var allStatuses = []auction.Status{
	auction.StatusInitialized, auction.StatusFinalized,
	auction.StatusCancelled, auction.StatusProcessed,
}

// auctionCollector is a collector that keeps track of the auctions of all
// epochs.
type auctionCollector struct {
	collectMx sync.Mutex

	cfg *PrometheusConfig

	g gauges
}

// newAuctionCollector makes a new auctionCollector instance.
func newAuctionCollector(cfg *PrometheusConfig) *auctionCollector {
	epochLabels := []string{labelEpoch}

	g := make(gauges)
	g.addGauge(
		auctionStatus, "current status of the auction",
		[]string{labelEpoch, labelStatus},
	)
	g.addGauge(
		auctionCapacity, "number of contracts the auction can sell",
		epochLabels,
	)
	g.addGauge(
		auctionSold, "number of contracts sold by the last matching run",
		epochLabels,
	)
	g.addGauge(
		auctionUtilization, "share of the capacity that was sold",
		epochLabels,
	)
	g.addGauge(
		auctionClearingPrice, "clearing price of the auction",
		epochLabels,
	)
	g.addGauge(
		auctionPremium, "premium swept to the vault",
		epochLabels,
	)

	return &auctionCollector{
		cfg: cfg,
		g:   g,
	}
}

// Name is the name of the metric group. When exported to prometheus, it's
// expected that all metric under this group have the same prefix.
//
// NOTE: Part of the MetricGroup interface.
func (c *auctionCollector) Name() string {
	return auctionCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *auctionCollector) Describe(ch chan<- *prometheus.Desc) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	c.g.describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *auctionCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	// We must reset our metrics here, otherwise auctions that vanished
	// from the source would still be reported.
	c.g.reset()

	for _, rec := range c.cfg.Auctions.Auctions() {
		c.observeAuction(rec)
	}

	c.g.collect(ch)
}

// observeAuction adds all metrics of one auction to our gauges.
func (c *auctionCollector) observeAuction(rec *auction.Record) {
	epoch := strconv.FormatUint(uint64(rec.Epoch), 10)
	labels := prometheus.Labels{labelEpoch: epoch}

	for _, status := range allStatuses {
		value := 0.0
		if status == rec.Status {
			value = 1
		}

		c.g[auctionStatus].With(prometheus.Labels{
			labelEpoch:  epoch,
			labelStatus: status.String(),
		}).Set(value)
	}

	c.g[auctionCapacity].With(labels).Set(toFloat(rec.TotalContracts))
	c.g[auctionSold].With(labels).Set(toFloat(rec.TotalContractsSold))
	c.g[auctionPremium].With(labels).Set(toFloat(rec.TotalPremium))

	utilization := 0.0
	if rec.TotalContracts.IsPositive() {
		utilization = toFloat(rec.TotalContractsSold) /
			toFloat(rec.TotalContracts)
	}
	c.g[auctionUtilization].With(labels).Set(utilization)

	// Nothing clears in a cancelled auction, so there's no meaningful
	// price to report.
	clearing := 0.0
	if rec.Status != auction.StatusCancelled {
		clearing = toFloat(rec.ClearingPrice)
	}
	c.g[auctionClearingPrice].With(labels).Set(clearing)
}

// RegisterMetricFuncs signals to the underlying hybrid collector that it
// should register all metrics that it aims to export with the given
// registry.
//
// NOTE: Part of the MetricGroup interface.
func (c *auctionCollector) RegisterMetricFuncs(reg prometheus.Registerer) error {
	return reg.Register(c)
}

// A compile time flag to ensure the auctionCollector satisfies the
// MetricGroup interface.
var _ MetricGroup = (*auctionCollector)(nil)

func init() {
	metricsMtx.Lock()
	metricGroups[auctionCollectorName] = func(cfg *PrometheusConfig) (
		MetricGroup, error) {

		return newAuctionCollector(cfg), nil
	}
	metricsMtx.Unlock()
}
