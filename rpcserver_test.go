package vendue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// apiResponse is a recorded REST response.
type apiResponse struct {
	*httptest.ResponseRecorder
}

// decode unmarshals the response body into v.
func (r *apiResponse) decode(t *testing.T, v interface{}) {
	require.NoError(t, json.Unmarshal(r.Body.Bytes(), v))
}

// errorCode returns the reason code of an error response.
func (r *apiResponse) errorCode(t *testing.T) string {
	var body struct {
		Code string `json:"code"`
	}
	r.decode(t, &body)

	return body.Code
}

// serve sends a request with an optional JSON body to the handler.
func serve(t *testing.T, h http.Handler, method, path string,
	caller account.Address, body interface{}) *apiResponse {

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set(HeaderCaller, string(caller))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return &apiResponse{rec}
}

// TestRESTOrderLifecycle runs an order through the public API and makes sure
// engine errors are reported with their reason codes.
func TestRESTOrderLifecycle(t *testing.T) {
	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "100")

	handler := newRPCServer(&restServerConfig{
		Auctioneer: h.auctioneer,
	}).handler()

	resp := serve(t, handler, http.MethodGet, "/v1/auctions/1", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var auc auctionResponse
	resp.decode(t, &auc)
	require.Equal(t, "Initialized", auc.Status)
	require.NotNil(t, auc.CurrentPrice)
	require.True(t, auc.PricesSet)

	// The capacity is only snapshot by the first market order.
	require.Zero(t, auc.TotalContracts)

	// Buyer operations need a caller.
	orderPath := "/v1/auctions/1/orders/limit"
	resp = serve(t, handler, http.MethodPost, orderPath, "", map[string]string{
		"price": "0.5", "size": "10",
	})
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "missing_caller", resp.errorCode(t))

	resp = serve(t, handler, http.MethodPost, orderPath, buyerA,
		map[string]string{"price": "0.5", "size": "0.001"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "order_too_small", resp.errorCode(t))

	resp = serve(t, handler, http.MethodPost, orderPath, buyerA,
		map[string]string{"price": "0.5", "size": "10"})
	require.Equal(t, http.StatusCreated, resp.Code)

	var o orderResponse
	resp.decode(t, &o)
	require.Equal(t, buyerA, o.Buyer)
	require.Equal(t, "limit", o.Origin)
	require.Equal(t, fixedpoint.MustParse("5"), o.Cost)
	require.Equal(t, fixedpoint.MustParse("95"), h.collateral(buyerA))

	resp = serve(t, handler, http.MethodGet,
		"/v1/auctions/1/orders?buyer=buyer-a", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var orders []*orderResponse
	resp.decode(t, &orders)
	require.Len(t, orders, 1)

	resp = serve(t, handler, http.MethodGet,
		"/v1/auctions/1/orders?buyer=buyer-b", "", nil)
	resp.decode(t, &orders)
	require.Empty(t, orders)

	// Only the owner may cancel.
	cancelPath := fmt.Sprintf("/v1/auctions/1/orders/%d", o.ID)
	resp = serve(t, handler, http.MethodDelete, cancelPath, buyerB, nil)
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Equal(t, "not_order_owner", resp.errorCode(t))

	resp = serve(t, handler, http.MethodDelete, cancelPath, buyerA, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, fixedpoint.MustParse("100"), h.collateral(buyerA))

	resp = serve(t, handler, http.MethodGet, cancelPath, "", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "order_not_found", resp.errorCode(t))

	// Vault operations aren't served on the public API, not even to a
	// caller claiming to be the vault.
	resp = serve(t, handler, http.MethodPost,
		"/v1/vault/auctions/1/prices", testVault,
		map[string]string{"max_price": "0.1", "min_price": "1"})
	require.Equal(t, http.StatusNotFound, resp.Code)

	rec, err := h.auctioneer.Auction(testEpoch)
	require.NoError(t, err)
	require.Equal(t, "Initialized", rec.Status.String())

	resp = serve(t, handler, http.MethodGet, "/v1/auctions/99", "", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "unknown_epoch", resp.errorCode(t))

	resp = serve(t, handler, http.MethodGet, "/v1/auctions/abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "invalid_request", resp.errorCode(t))

	// The auction can't be finalized before its window has passed.
	resp = serve(t, handler, http.MethodPost, "/v1/auctions/1/finalize",
		"", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var finalized struct {
		Finalized bool `json:"finalized"`
	}
	resp.decode(t, &finalized)
	require.False(t, finalized.Finalized)
}

// TestRESTVaultLifecycle initializes and prices a new auction through the
// vault routes of the admin server.
func TestRESTVaultLifecycle(t *testing.T) {
	h := newTestHarness(t)
	defer h.stop()

	handler := newRPCServer(&restServerConfig{
		Auctioneer: h.auctioneer,
	}).handler()
	admin := newAdminRPCServer(&adminServerConfig{
		Auctioneer: h.auctioneer,
	}).httpServer.Handler

	body := map[string]interface{}{
		"epoch":      2,
		"strike":     "2500",
		"claim_id":   "claim-epoch-2",
		"start_time": testStart,
		"end_time":   testEnd,
	}

	// Even on the admin server, only the vault runs the lifecycle.
	resp := serve(t, admin, http.MethodPost, "/admin/v1/vault/auctions",
		"", body)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "missing_caller", resp.errorCode(t))

	resp = serve(t, admin, http.MethodPost, "/admin/v1/vault/auctions",
		buyerA, body)
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Equal(t, "not_vault", resp.errorCode(t))

	resp = serve(t, admin, http.MethodPost, "/admin/v1/vault/auctions",
		testVault, body)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = serve(t, admin, http.MethodPost, "/admin/v1/vault/auctions",
		testVault, body)
	require.Equal(t, http.StatusConflict, resp.Code)
	require.Equal(t, "already_initialized", resp.errorCode(t))

	// Without prices there is no curve to buy from.
	resp = serve(t, handler, http.MethodGet, "/v1/auctions/2", "", nil)
	var auc auctionResponse
	resp.decode(t, &auc)
	require.False(t, auc.PricesSet)

	// An ascending curve cancels the auction.
	resp = serve(t, admin, http.MethodPost,
		"/admin/v1/vault/auctions/2/prices", testVault,
		map[string]string{"max_price": "0.1", "min_price": "1"})
	require.Equal(t, http.StatusOK, resp.Code)

	var prices struct {
		Cancelled bool `json:"cancelled"`
	}
	resp.decode(t, &prices)
	require.True(t, prices.Cancelled)

	resp = serve(t, handler, http.MethodGet, "/v1/auctions/2", "", nil)
	resp.decode(t, &auc)
	require.Equal(t, "Cancelled", auc.Status)
	require.Nil(t, auc.CurrentPrice)

	resp = serve(t, handler, http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var info infoResponse
	resp.decode(t, &info)
	require.Equal(t, testVault, info.Vault)
	require.Equal(t, testEscrow, info.Escrow)
	require.Len(t, info.Epochs, 1)
}

// TestRESTRateLimit makes sure every caller gets its own request budget.
func TestRESTRateLimit(t *testing.T) {
	h := newTestHarness(t)
	defer h.stop()

	handler := newRPCServer(&restServerConfig{
		Auctioneer:   h.auctioneer,
		RequestRate:  0.001,
		RequestBurst: 1,
	}).handler()

	resp := serve(t, handler, http.MethodGet, "/v1/info", buyerA, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = serve(t, handler, http.MethodGet, "/v1/info", buyerA, nil)
	require.Equal(t, http.StatusTooManyRequests, resp.Code)
	require.Equal(t, "rate_limited", resp.errorCode(t))

	resp = serve(t, handler, http.MethodGet, "/v1/info", buyerB, nil)
	require.Equal(t, http.StatusOK, resp.Code)
}

// TestRESTRecoverPanics makes sure a panicking handler results in an internal
// error instead of a dropped connection.
func TestRESTRecoverPanics(t *testing.T) {
	r := gin.New()
	r.Use(recoverPanics())
	r.GET("/panic", func(*gin.Context) {
		panic("boom")
	})

	resp := serve(t, r, http.MethodGet, "/panic", "", nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	require.Equal(t, "internal", resp.errorCode(t))
}

// TestRESTEventStream makes sure the event stream forwards the notifications
// of the requested epoch.
func TestRESTEventStream(t *testing.T) {
	h := newTestHarness(t)
	defer h.stop()

	h.openAuction()
	h.fund(buyerA, "1000")

	server := httptest.NewServer(newRPCServer(&restServerConfig{
		Auctioneer: h.auctioneer,
	}).handler())
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, server.URL+"/v1/events?epoch=1", nil,
	)
	require.NoError(t, err)

	received := make(chan string, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "event:") {
				received <- line
				return
			}
		}
	}()

	// The response headers are only flushed with the first event, so we
	// keep adding orders until the stream delivers one.
	var event string
	require.Eventually(t, func() bool {
		_, _ = h.auctioneer.AddLimitOrder(
			h.ctx, testEpoch, buyerA, fixedpoint.MustParse("0.5"),
			fixedpoint.MustParse("1"),
		)

		select {
		case event = <-received:
			return true
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	require.Equal(t, "event:"+EventOrderAdded.String(), event)
}

// TestAdminFaucet runs the faucet and ticker routes of the admin server.
func TestAdminFaucet(t *testing.T) {
	h := newTestHarness(t)
	defer h.stop()

	ticker := NewIntervalAwareForceTicker(time.Hour, clock.NewDefaultClock())
	defer ticker.Stop()

	cfg := &adminServerConfig{
		Auctioneer: h.auctioneer,
		Ticker:     ticker,
	}
	noFaucet := newAdminRPCServer(cfg).httpServer.Handler

	resp := serve(t, noFaucet, http.MethodPost, "/admin/v1/faucet/mint",
		"", map[string]string{"address": "buyer-a", "amount": "5"})
	require.Equal(t, http.StatusForbidden, resp.Code)
	require.Equal(t, "faucet_disabled", resp.errorCode(t))

	cfg.Faucet = &simFaucet{
		ledger: h.ledger,
		vault:  h.vault,
		venue:  h.venue,
	}
	admin := newAdminRPCServer(cfg).httpServer.Handler

	resp = serve(t, admin, http.MethodPost, "/admin/v1/faucet/mint", "",
		map[string]string{"address": "buyer-a", "amount": "5"})
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, fixedpoint.MustParse("5"), h.collateral(buyerA))

	resp = serve(t, admin, http.MethodGet,
		"/admin/v1/faucet/balance?address=buyer-a", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	var balance struct {
		Balance fixedpoint.Fixed `json:"balance"`
	}
	resp.decode(t, &balance)
	require.Equal(t, fixedpoint.MustParse("5"), balance.Balance)

	// The collateral can't be used as a position claim.
	resp = serve(t, admin, http.MethodPost, "/admin/v1/faucet/exercise", "",
		map[string]string{
			"claim_id": string(account.CollateralAsset),
			"value":    "1",
		})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Equal(t, "invalid_claim_id", resp.errorCode(t))

	resp = serve(t, admin, http.MethodPost, "/admin/v1/faucet/capacity", "",
		map[string]interface{}{"epoch": 3, "capacity": "42"})
	require.Equal(t, http.StatusOK, resp.Code)

	capacity, err := h.vault.AvailableCapacity(h.ctx, 3)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.MustParse("42"), capacity)

	resp = serve(t, admin, http.MethodPost, "/admin/v1/ticker/resume", "",
		nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.True(t, ticker.IsActive())

	resp = serve(t, admin, http.MethodPost, "/admin/v1/ticker/pause", "",
		nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.False(t, ticker.IsActive())
}
