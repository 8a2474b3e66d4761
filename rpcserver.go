package vendue

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	goerrors "github.com/go-errors/errors"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/monitoring"
	"github.com/optionvault/vendue/order"
	"github.com/optionvault/vendue/venue"
	"github.com/optionvault/vendue/venue/matching"
	"golang.org/x/time/rate"
)

const (
	// HeaderCaller is the request header that carries the ledger address
	// of the caller. Buyer and vault operations act on behalf of it.
	HeaderCaller = "X-Vendue-Caller"

	// eventKeepAlive is the interval at which an idle event stream is sent
	// a comment to keep intermediaries from closing it.
	eventKeepAlive = 30 * time.Second
)

// restServerConfig holds everything the public REST server needs.
type restServerConfig struct {
	// Auctioneer is the engine all requests are served from.
	Auctioneer *Auctioneer

	// Listener is the network listener the server accepts connections
	// on. It is wrapped with TLS if TLSConfig is set.
	Listener net.Listener

	// TLSConfig is the optional TLS configuration of the server.
	TLSConfig *tls.Config

	// RequestRate is the sustained number of requests per second a single
	// caller may send. Zero disables rate limiting.
	RequestRate rate.Limit

	// RequestBurst is the number of requests a caller may send at once.
	RequestBurst int
}

// rpcServer is the public REST API of the auctioneer. Buyers submit, cancel
// and withdraw orders through it, the vault runs the auction lifecycle and
// anyone may trigger the permissionless operations or follow the event
// stream.
type rpcServer struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	cfg *restServerConfig

	auctioneer *Auctioneer
	httpServer *http.Server

	limiters    map[string]*rate.Limiter
	limitersMtx sync.Mutex

	quit    chan struct{}
	serveWg sync.WaitGroup
}

// newRPCServer creates the public REST server and registers all its routes.
func newRPCServer(cfg *restServerConfig) *rpcServer {
	s := &rpcServer{
		cfg:        cfg,
		auctioneer: cfg.Auctioneer,
		limiters:   make(map[string]*rate.Limiter),
		quit:       make(chan struct{}),
	}

	s.httpServer = &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// handler builds the gin engine serving the public API.
func (s *rpcServer) handler() http.Handler {
	r := gin.New()
	r.Use(recoverPanics(), observeRequests("public"), s.rateLimit())
	s.registerRoutes(r)

	return r
}

// registerRoutes registers all public routes on the given engine.
func (s *rpcServer) registerRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")

	v1.GET("/info", s.info)
	v1.GET("/events", s.events)

	auctions := v1.Group("/auctions")
	auctions.GET("", s.listAuctions)
	auctions.GET("/:epoch", s.getAuction)
	auctions.GET("/:epoch/orders", s.listOrders)
	auctions.GET("/:epoch/orders/:id", s.getOrder)
	auctions.GET("/:epoch/settlements", s.listSettlements)
	auctions.POST("/:epoch/orders/limit", s.addLimitOrder)
	auctions.POST("/:epoch/orders/market", s.addMarketOrder)
	auctions.DELETE("/:epoch/orders/:id", s.cancelOrder)
	auctions.GET("/:epoch/withdrawal", s.previewWithdraw)
	auctions.POST("/:epoch/withdrawal", s.withdraw)
	auctions.POST("/:epoch/process", s.processOrders)
	auctions.POST("/:epoch/finalize", s.finalizeAuction)
	auctions.POST("/:epoch/premium", s.transferPremium)
}

// Start starts serving requests in a goroutine.
func (s *rpcServer) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return nil
	}

	listener := s.cfg.Listener
	if s.cfg.TLSConfig != nil {
		listener = tls.NewListener(listener, s.cfg.TLSConfig)
	}

	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()

		rpcLog.Infof("REST server listening on %s", listener.Addr())
		err := s.httpServer.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			rpcLog.Errorf("REST server stopped with error: %v", err)
		}
	}()

	return nil
}

// Stop closes all event streams and shuts down the server.
func (s *rpcServer) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}

	rpcLog.Info("Stopping REST server")

	close(s.quit)
	if err := s.httpServer.Close(); err != nil {
		rpcLog.Errorf("Error closing REST server: %v", err)
	}
	s.serveWg.Wait()

	rpcLog.Info("REST server stopped")
}

// recoverPanics turns a panicking handler into an internal error response and
// logs the panic together with its stack trace.
func recoverPanics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}

			rpcLog.Errorf("Panic serving %s %s: %v",
				c.Request.Method, c.Request.URL.Path,
				goerrors.Wrap(r, 2).ErrorStack())

			c.AbortWithStatusJSON(
				http.StatusInternalServerError, gin.H{
					"error": "internal error",
					"code":  "internal",
				},
			)
		}()

		c.Next()
	}
}

// observeRequests reports the latency of every request to the REST metrics.
func observeRequests(api string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		monitoring.ObserveRequest(
			api, c.Request.Method, c.FullPath(), c.Writer.Status(),
			time.Since(start),
		)
	}
}

// rateLimit rejects requests of callers that exceed their request budget.
func (s *rpcServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.RequestRate == 0 {
			c.Next()
			return
		}

		key := c.GetHeader(HeaderCaller)
		if key == "" {
			key = c.ClientIP()
		}

		if !s.limiter(key).Allow() {
			rpcLog.Debugf("Rate limited request of %v to %s", key,
				c.Request.URL.Path)

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "request rate exceeded",
				"code":  "rate_limited",
			})
			return
		}

		c.Next()
	}
}

// limiter returns the rate limiter of the given caller, creating it on first
// use.
func (s *rpcServer) limiter(key string) *rate.Limiter {
	s.limitersMtx.Lock()
	defer s.limitersMtx.Unlock()

	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.cfg.RequestRate, s.cfg.RequestBurst)
		s.limiters[key] = l
	}

	return l
}

// writeError reports an engine error with its reason code and status.
func writeError(c *gin.Context, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		rpcLog.Errorf("[%s %s]: %v", c.Request.Method, c.FullPath(), err)
	} else {
		rpcLog.Debugf("[%s %s]: %v", c.Request.Method, c.FullPath(), err)
	}

	c.JSON(status, gin.H{
		"error": err.Error(),
		"code":  ErrorCode(err),
	})
}

// badRequest reports a malformed request.
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
		"code":  "invalid_request",
	})
}

// parseEpoch reads the epoch path parameter.
func parseEpoch(c *gin.Context) (auction.Epoch, bool) {
	epoch, err := strconv.ParseUint(c.Param("epoch"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid epoch %q", c.Param("epoch")))
		return 0, false
	}

	return auction.Epoch(epoch), true
}

// parseOrderID reads the order ID path parameter.
func parseOrderID(c *gin.Context) (order.ID, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, fmt.Errorf("invalid order id %q", c.Param("id")))
		return 0, false
	}

	return order.ID(id), true
}

// requireCaller reads the caller address from the request header.
func requireCaller(c *gin.Context) (account.Address, bool) {
	caller := account.Address(c.GetHeader(HeaderCaller))
	if caller.IsZero() {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": fmt.Sprintf("missing %s header", HeaderCaller),
			"code":  "missing_caller",
		})
		return "", false
	}

	return caller, true
}

func (s *rpcServer) info(c *gin.Context) {
	c.JSON(http.StatusOK, &infoResponse{
		Version:      Version(),
		Vault:        s.auctioneer.cfg.Vault.Address(),
		Escrow:       s.auctioneer.Escrow(),
		MinOrderSize: s.auctioneer.MinOrderSize(),
		Epochs:       s.auctioneer.Epochs(),
		OpenEpochs:   s.auctioneer.OpenEpochs(),
	})
}

func (s *rpcServer) listAuctions(c *gin.Context) {
	now := s.auctioneer.cfg.Clock.Now()

	records := s.auctioneer.Auctions()
	resp := make([]*auctionResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, marshallAuction(rec, now))
	}

	c.JSON(http.StatusOK, resp)
}

func (s *rpcServer) getAuction(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	rec, err := s.auctioneer.Auction(epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallAuction(rec, s.auctioneer.cfg.Clock.Now()))
}

func (s *rpcServer) listOrders(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	var (
		orders []*order.Order
		err    error
	)
	if buyer := c.Query("buyer"); buyer != "" {
		orders, err = s.auctioneer.OrdersOf(
			epoch, account.Address(buyer),
		)
	} else {
		orders, err = s.auctioneer.Orders(epoch)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	resp := make([]*orderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, marshallOrder(o))
	}

	c.JSON(http.StatusOK, resp)
}

func (s *rpcServer) getOrder(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	id, ok := parseOrderID(c)
	if !ok {
		return
	}

	o, err := s.auctioneer.Order(epoch, id)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallOrder(o))
}

func (s *rpcServer) listSettlements(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	settlements, err := s.auctioneer.Settlements(epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallSettlements(settlements))
}

// orderRequest is the body of a limit or market order submission. The price
// is ignored for market orders.
type orderRequest struct {
	Price fixedpoint.Fixed `json:"price"`
	Size  fixedpoint.Fixed `json:"size"`
}

func (s *rpcServer) addLimitOrder(c *gin.Context) {
	s.addOrder(c, order.OriginLimit)
}

func (s *rpcServer) addMarketOrder(c *gin.Context) {
	s.addOrder(c, order.OriginMarket)
}

// addOrder submits an order of the given origin on behalf of the caller.
func (s *rpcServer) addOrder(c *gin.Context, origin order.Origin) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	buyer, ok := requireCaller(c)
	if !ok {
		return
	}

	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var (
		o   *order.Order
		err error
	)
	ctx := c.Request.Context()
	if origin == order.OriginMarket {
		o, err = s.auctioneer.AddMarketOrder(ctx, epoch, buyer, req.Size)
	} else {
		o, err = s.auctioneer.AddLimitOrder(
			ctx, epoch, buyer, req.Price, req.Size,
		)
	}
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, marshallOrder(o))
}

func (s *rpcServer) cancelOrder(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	buyer, ok := requireCaller(c)
	if !ok {
		return
	}

	o, err := s.auctioneer.CancelLimitOrder(
		c.Request.Context(), epoch, buyer, id,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallOrder(o))
}

func (s *rpcServer) previewWithdraw(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	// Previews are public, anyone may look at the payout of any buyer.
	buyer := account.Address(c.Query("buyer"))
	if buyer.IsZero() {
		buyer, ok = requireCaller(c)
		if !ok {
			return
		}
	}

	w, err := s.auctioneer.PreviewWithdraw(c.Request.Context(), epoch, buyer)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallWithdrawal(w))
}

func (s *rpcServer) withdraw(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	buyer, ok := requireCaller(c)
	if !ok {
		return
	}

	w, err := s.auctioneer.Withdraw(c.Request.Context(), epoch, buyer)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, marshallWithdrawal(w))
}

func (s *rpcServer) processOrders(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	utilized, err := s.auctioneer.ProcessOrders(c.Request.Context(), epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"utilized": utilized})
}

func (s *rpcServer) finalizeAuction(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	finalized, err := s.auctioneer.FinalizeAuction(
		c.Request.Context(), epoch,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"finalized": finalized})
}

func (s *rpcServer) transferPremium(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	premium, err := s.auctioneer.TransferPremium(c.Request.Context(), epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"premium": premium})
}

// events streams all auction notifications as server-sent events. The
// optional epoch query parameter restricts the stream to one epoch.
func (s *rpcServer) events(c *gin.Context) {
	var (
		filter    auction.Epoch
		hasFilter bool
	)
	if q := c.Query("epoch"); q != "" {
		epoch, err := strconv.ParseUint(q, 10, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid epoch %q", q))
			return
		}
		filter, hasFilter = auction.Epoch(epoch), true
	}

	sub, err := s.auctioneer.Subscribe()
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Cancel()

	rpcLog.Debugf("Event stream opened by %v", c.ClientIP())

	keepAlive := time.NewTicker(eventKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case update := <-sub.Updates():
			event, ok := update.(AuctionEvent)
			if !ok {
				return true
			}
			if hasFilter && event.AuctionEpoch() != filter {
				return true
			}

			c.SSEvent(event.Type().String(), event)
			return true

		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil

		case <-sub.Quit():
			return false

		case <-ctx.Done():
			return false

		case <-s.quit:
			return false
		}
	})

	rpcLog.Debugf("Event stream of %v closed", c.ClientIP())
}

// infoResponse describes the auctioneer instance.
type infoResponse struct {
	Version      string           `json:"version"`
	Vault        account.Address  `json:"vault"`
	Escrow       account.Address  `json:"escrow"`
	MinOrderSize fixedpoint.Fixed `json:"min_order_size"`
	Epochs       []auction.Epoch  `json:"epochs"`
	OpenEpochs   []auction.Epoch  `json:"open_epochs"`
}

// auctionResponse is the REST representation of an auction record.
type auctionResponse struct {
	Epoch              auction.Epoch     `json:"epoch"`
	Status             string            `json:"status"`
	StartTime          time.Time         `json:"start_time"`
	EndTime            time.Time         `json:"end_time"`
	MaxPrice           fixedpoint.Fixed  `json:"max_price"`
	MinPrice           fixedpoint.Fixed  `json:"min_price"`
	PricesSet          bool              `json:"prices_set"`
	CurrentPrice       *fixedpoint.Fixed `json:"current_price,omitempty"`
	ClearingPrice      fixedpoint.Fixed  `json:"clearing_price"`
	Strike             fixedpoint.Fixed  `json:"strike"`
	ClaimID            account.AssetID   `json:"claim_id"`
	TotalContracts     fixedpoint.Fixed  `json:"total_contracts"`
	TotalContractsSold fixedpoint.Fixed  `json:"total_contracts_sold"`
	TotalPremium       fixedpoint.Fixed  `json:"total_premium"`
	PremiumTransferred bool              `json:"premium_transferred"`
	CashSettled        bool              `json:"cash_settled"`
	ExerciseValue      *fixedpoint.Fixed `json:"exercise_value,omitempty"`
}

// marshallAuction converts an auction record into its REST representation.
// The current curve price is only included while the auction is open.
func marshallAuction(rec *auction.Record, now time.Time) *auctionResponse {
	resp := &auctionResponse{
		Epoch:              rec.Epoch,
		Status:             rec.Status.String(),
		StartTime:          rec.StartTime,
		EndTime:            rec.EndTime,
		MaxPrice:           rec.MaxPrice,
		MinPrice:           rec.MinPrice,
		PricesSet:          rec.PricesSet,
		ClearingPrice:      rec.ClearingPrice,
		Strike:             rec.Strike,
		ClaimID:            rec.ClaimID,
		TotalContracts:     rec.TotalContracts,
		TotalContractsSold: rec.TotalContractsSold,
		TotalPremium:       rec.TotalPremium,
		PremiumTransferred: rec.PremiumTransferred,
		CashSettled:        rec.CashSettled,
	}

	if rec.CashSettled {
		value := rec.ExerciseValue
		resp.ExerciseValue = &value
	}

	if rec.CheckOpen(now) == nil {
		if price, err := rec.CurvePrice(now); err == nil {
			resp.CurrentPrice = &price
		}
	}

	return resp
}

// orderResponse is the REST representation of an order.
type orderResponse struct {
	ID          order.ID         `json:"id"`
	Epoch       auction.Epoch    `json:"epoch"`
	Buyer       account.Address  `json:"buyer"`
	Origin      string           `json:"origin"`
	Price       fixedpoint.Fixed `json:"price"`
	Size        fixedpoint.Fixed `json:"size"`
	Cost        fixedpoint.Fixed `json:"cost"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// marshallOrder converts an order into its REST representation.
func marshallOrder(o *order.Order) *orderResponse {
	return &orderResponse{
		ID:          o.ID,
		Epoch:       o.Epoch,
		Buyer:       o.Buyer,
		Origin:      o.Origin.String(),
		Price:       o.Price,
		Size:        o.Size,
		Cost:        o.Cost,
		SubmittedAt: o.SubmittedAt,
	}
}

// settlementResponse is the REST representation of an order's settlement.
type settlementResponse struct {
	Order          *orderResponse   `json:"order"`
	Fulfill        string           `json:"fulfill"`
	Fill           fixedpoint.Fixed `json:"fill"`
	PremiumCharged fixedpoint.Fixed `json:"premium_charged"`
	Refund         fixedpoint.Fixed `json:"refund"`
}

// marshallSettlements converts settlements into their REST representation.
func marshallSettlements(
	settlements []*matching.Settlement) []*settlementResponse {

	resp := make([]*settlementResponse, 0, len(settlements))
	for _, s := range settlements {
		resp = append(resp, &settlementResponse{
			Order:          marshallOrder(s.Order),
			Fulfill:        s.FulfillType().String(),
			Fill:           s.Fill,
			PremiumCharged: s.PremiumCharged,
			Refund:         s.Refund,
		})
	}

	return resp
}

// withdrawalResponse is the REST representation of a withdrawal.
type withdrawalResponse struct {
	Epoch       auction.Epoch         `json:"epoch"`
	Buyer       account.Address       `json:"buyer"`
	Mode        string                `json:"mode"`
	Fill        fixedpoint.Fixed      `json:"fill"`
	Refund      fixedpoint.Fixed      `json:"refund"`
	Exercise    fixedpoint.Fixed      `json:"exercise_value"`
	CashValue   fixedpoint.Fixed      `json:"cash_value"`
	ClaimUnits  fixedpoint.Fixed      `json:"claim_units"`
	Collateral  fixedpoint.Fixed      `json:"collateral"`
	Settlements []*settlementResponse `json:"settlements"`
}

// marshallWithdrawal converts a withdrawal into its REST representation.
func marshallWithdrawal(w *venue.Withdrawal) *withdrawalResponse {
	return &withdrawalResponse{
		Epoch:       w.Epoch,
		Buyer:       w.Buyer,
		Mode:        w.Mode.String(),
		Fill:        w.Fill,
		Refund:      w.Refund,
		Exercise:    w.ExerciseValue,
		CashValue:   w.CashValue,
		ClaimUnits:  w.ClaimUnits,
		Collateral:  w.Collateral,
		Settlements: marshallSettlements(w.Settlements),
	}
}
