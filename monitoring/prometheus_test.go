package monitoring

import (
	"net/http"
	"testing"
	"time"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue/matching"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// mockSource is an AuctionSource serving a fixed set of auctions.
type mockSource struct {
	records     []*auction.Record
	orders      map[auction.Epoch][]*order.Order
	settlements map[auction.Epoch][]*matching.Settlement
}

func (m *mockSource) Auctions() []*auction.Record {
	return m.records
}

func (m *mockSource) Orders(epoch auction.Epoch) ([]*order.Order, error) {
	return m.orders[epoch], nil
}

func (m *mockSource) Settlements(
	epoch auction.Epoch) ([]*matching.Settlement, error) {

	return m.settlements[epoch], nil
}

func newMockSource() *mockSource {
	limit := &order.Order{
		ID:     1,
		Epoch:  7,
		Price:  fixedpoint.MustParse("0.5"),
		Size:   fixedpoint.MustParse("10"),
		Buyer:  account.Address("buyer"),
		Origin: order.OriginLimit,
		Cost:   fixedpoint.MustParse("5"),
	}
	market := &order.Order{
		ID:     2,
		Epoch:  7,
		Price:  fixedpoint.MustParse("0.4"),
		Size:   fixedpoint.MustParse("20"),
		Buyer:  account.Address("buyer"),
		Origin: order.OriginMarket,
		Cost:   fixedpoint.MustParse("8"),
	}

	return &mockSource{
		records: []*auction.Record{{
			Epoch:              7,
			Status:             auction.StatusFinalized,
			ClearingPrice:      fixedpoint.MustParse("0.4"),
			TotalContracts:     fixedpoint.MustParse("40"),
			TotalContractsSold: fixedpoint.MustParse("30"),
		}, {
			Epoch:         8,
			Status:        auction.StatusCancelled,
			ClearingPrice: fixedpoint.Max,
		}},
		orders: map[auction.Epoch][]*order.Order{
			7: {limit, market},
		},
		settlements: map[auction.Epoch][]*matching.Settlement{
			7: {{
				Order:          limit,
				Fill:           limit.Size,
				PremiumCharged: fixedpoint.MustParse("4"),
				Refund:         fixedpoint.MustParse("1"),
			}, {
				Order:          market,
				Fill:           market.Size,
				PremiumCharged: fixedpoint.MustParse("8"),
			}},
		},
	}
}

// collect runs a collection and drains the produced metrics.
func collect(c prometheus.Collector) {
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)
}

// TestAuctionCollector makes sure the auction gauges reflect the records of
// the source.
func TestAuctionCollector(t *testing.T) {
	c := newAuctionCollector(&PrometheusConfig{Auctions: newMockSource()})
	collect(c)

	gauge := func(name, epoch string) float64 {
		return testutil.ToFloat64(c.g[name].With(prometheus.Labels{
			labelEpoch: epoch,
		}))
	}

	require.Equal(t, 40.0, gauge(auctionCapacity, "7"))
	require.Equal(t, 30.0, gauge(auctionSold, "7"))
	require.Equal(t, 0.75, gauge(auctionUtilization, "7"))
	require.Equal(t, 0.4, gauge(auctionClearingPrice, "7"))

	// A cancelled auction reports no clearing price and no utilization.
	require.Equal(t, 0.0, gauge(auctionClearingPrice, "8"))
	require.Equal(t, 0.0, gauge(auctionUtilization, "8"))

	status := func(epoch string, s auction.Status) float64 {
		return testutil.ToFloat64(c.g[auctionStatus].With(
			prometheus.Labels{
				labelEpoch:  epoch,
				labelStatus: s.String(),
			},
		))
	}
	require.Equal(t, 1.0, status("7", auction.StatusFinalized))
	require.Equal(t, 0.0, status("7", auction.StatusInitialized))
	require.Equal(t, 1.0, status("8", auction.StatusCancelled))
}

// TestOrderCollector makes sure the order gauges aggregate the books per epoch
// and origin.
func TestOrderCollector(t *testing.T) {
	c := newOrderCollector(&PrometheusConfig{Auctions: newMockSource()})

	// Collecting twice must not add up the values.
	collect(c)
	collect(c)

	origin := func(name string, o order.Origin) float64 {
		return testutil.ToFloat64(c.g[name].With(prometheus.Labels{
			labelEpoch:  "7",
			labelOrigin: o.String(),
		}))
	}
	require.Equal(t, 1.0, origin(orderCount, order.OriginLimit))
	require.Equal(t, 1.0, origin(orderCount, order.OriginMarket))
	require.Equal(t, 10.0, origin(orderSize, order.OriginLimit))
	require.Equal(t, 8.0, origin(orderCost, order.OriginMarket))

	// The cancelled epoch has an empty book but still reports a baseline.
	require.Equal(t, 0.0, testutil.ToFloat64(c.g[orderCount].With(
		prometheus.Labels{
			labelEpoch:  "8",
			labelOrigin: order.OriginLimit.String(),
		},
	)))

	fill := testutil.ToFloat64(c.g[orderFill].With(prometheus.Labels{
		labelEpoch:   "7",
		labelFulfill: matching.TotalFill.String(),
	}))
	require.Equal(t, 30.0, fill)
}

// TestExporterLifecycle makes sure request observations are only recorded
// while the exporter is active and the metrics endpoint serves them.
func TestExporterLifecycle(t *testing.T) {
	// Without an active exporter, observations are dropped.
	ObserveRequest("public", http.MethodGet, "/v1/info", 200, time.Second)
	require.Nil(t, fetchRealTimeCollector())

	exporter := NewPrometheusExporter(&PrometheusConfig{
		Active:     true,
		ListenAddr: "127.0.0.1:0",
		Auctions:   newMockSource(),
	})
	require.NoError(t, exporter.Start())

	ObserveRequest("public", http.MethodGet, "/v1/info", 200, time.Second)
	ObserveRequest("public", http.MethodGet, "", 404, time.Millisecond)

	r := fetchRealTimeCollector()
	require.NotNil(t, r)
	require.Equal(t, 2, testutil.CollectAndCount(r.requestDuration))

	families, err := exporter.registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	require.NoError(t, exporter.Stop())
	require.Nil(t, fetchRealTimeCollector())
}
