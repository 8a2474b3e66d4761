package monitoring

import (
	"strconv"
	"sync"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue/matching"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// orderCollectorName is the name of the MetricGroup for the
	// orderCollector.
	orderCollectorName = "order"

	// orderCount is a gauge that keeps track of the number of orders in
	// the book of every epoch.
	orderCount = "order_count"

	// orderSize is a gauge that keeps track of the total number of
	// contracts requested.
	orderSize = "order_size"

	// orderCost is a gauge that keeps track of the collateral prepaid for
	// the orders.
	orderCost = "order_cost"

	// orderFill is a gauge that keeps track of the contracts the orders
	// currently buy.
	orderFill = "order_fill"

	// orderRefund is a gauge that keeps track of the collateral the
	// orders currently get back.
	orderRefund = "order_refund"

	labelOrigin  = "origin"
	labelFulfill = "fulfill"
)

// orderCollector is a collector that keeps track of the order books of all
// epochs.
type orderCollector struct {
	collectMx sync.Mutex

	cfg *PrometheusConfig

	g gauges
}

// newOrderCollector makes a new orderCollector instance.
func newOrderCollector(cfg *PrometheusConfig) *orderCollector {
	originLabels := []string{labelEpoch, labelOrigin}
	fulfillLabels := []string{labelEpoch, labelFulfill}

	g := make(gauges)
	g.addGauge(orderCount, "number of orders in the book", originLabels)
	g.addGauge(orderSize, "contracts requested by orders", originLabels)
	g.addGauge(orderCost, "collateral prepaid for orders", originLabels)
	g.addGauge(orderFill, "contracts bought by orders", fulfillLabels)
	g.addGauge(orderRefund, "collateral refunded to orders", fulfillLabels)

	return &orderCollector{
		cfg: cfg,
		g:   g,
	}
}

// Name is the name of the metric group. When exported to prometheus, it's
// expected that all metric under this group have the same prefix.
//
// NOTE: Part of the MetricGroup interface.
func (c *orderCollector) Name() string {
	return orderCollectorName
}

// Describe sends the super-set of all possible descriptors of metrics
// collected by this Collector to the provided channel and returns once the
// last descriptor has been sent.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *orderCollector) Describe(ch chan<- *prometheus.Desc) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	c.g.describe(ch)
}

// Collect is called by the Prometheus registry when collecting metrics.
//
// NOTE: Part of the prometheus.Collector interface.
func (c *orderCollector) Collect(ch chan<- prometheus.Metric) {
	c.collectMx.Lock()
	defer c.collectMx.Unlock()

	// We must reset our metrics here, otherwise they would add up with
	// each run.
	c.g.reset()

	for _, rec := range c.cfg.Auctions.Auctions() {
		c.resetEpoch(rec.Epoch)

		orders, err := c.cfg.Auctions.Orders(rec.Epoch)
		if err != nil {
			log.Errorf("Unable to get orders of epoch %d: %v",
				rec.Epoch, err)
			continue
		}
		for _, o := range orders {
			c.observeOrder(o)
		}

		settlements, err := c.cfg.Auctions.Settlements(rec.Epoch)
		if err != nil {
			log.Errorf("Unable to get settlements of epoch %d: %v",
				rec.Epoch, err)
			continue
		}
		for _, s := range settlements {
			c.observeSettlement(s)
		}
	}

	c.g.collect(ch)
}

// resetEpoch adds a zero baseline for all origins of an epoch so prometheus
// sees the values drop once the book empties.
func (c *orderCollector) resetEpoch(epoch auction.Epoch) {
	e := strconv.FormatUint(uint64(epoch), 10)

	for _, origin := range []order.Origin{
		order.OriginLimit, order.OriginMarket,
	} {
		labels := prometheus.Labels{
			labelEpoch:  e,
			labelOrigin: origin.String(),
		}
		c.g[orderCount].With(labels).Set(0)
		c.g[orderSize].With(labels).Set(0)
		c.g[orderCost].With(labels).Set(0)
	}
}

// observeOrder adds the metrics of one order to our gauges.
func (c *orderCollector) observeOrder(o *order.Order) {
	labels := prometheus.Labels{
		labelEpoch:  strconv.FormatUint(uint64(o.Epoch), 10),
		labelOrigin: o.Origin.String(),
	}

	c.g[orderCount].With(labels).Inc()
	c.g[orderSize].With(labels).Add(toFloat(o.Size))
	c.g[orderCost].With(labels).Add(toFloat(o.Cost))
}

// observeSettlement adds the metrics of one order's settlement to our gauges.
func (c *orderCollector) observeSettlement(s *matching.Settlement) {
	labels := prometheus.Labels{
		labelEpoch:   strconv.FormatUint(uint64(s.Order.Epoch), 10),
		labelFulfill: s.FulfillType().String(),
	}

	c.g[orderFill].With(labels).Add(toFloat(s.Fill))
	c.g[orderRefund].With(labels).Add(toFloat(s.Refund))
}

// RegisterMetricFuncs signals to the underlying hybrid collector that it
// should register all metrics that it aims to export with the given
// registry.
//
// NOTE: Part of the MetricGroup interface.
func (c *orderCollector) RegisterMetricFuncs(reg prometheus.Registerer) error {
	return reg.Register(c)
}

// A compile time flag to ensure the orderCollector satisfies the MetricGroup
// interface.
var _ MetricGroup = (*orderCollector)(nil)

func init() {
	metricsMtx.Lock()
	metricGroups[orderCollectorName] = func(cfg *PrometheusConfig) (
		MetricGroup, error) {

		return newOrderCollector(cfg), nil
	}
	metricsMtx.Unlock()
}
