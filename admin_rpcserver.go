package vendue

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lightningnetwork/lnd/build"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/fixedpoint"
)

// simFaucet bundles the simulated host the admin faucet operates on.
type simFaucet struct {
	ledger *account.Ledger
	vault  *chain.SimVault
	venue  *chain.SimVenue
}

// adminServerConfig holds everything the admin REST server needs.
type adminServerConfig struct {
	// Auctioneer is the engine the admin inspects.
	Auctioneer *Auctioneer

	// Ticker is the ticker of the keeper.
	Ticker *IntervalAwareForceTicker

	// Listener is the network listener of the admin server. It should
	// only be reachable from trusted hosts.
	Listener net.Listener

	// Faucet is the simulated host. It is nil if the faucet is disabled.
	Faucet *simFaucet
}

// adminRPCServer serves administrative and super user content: the vault's
// auction lifecycle, the keeper ticker, log levels and the simnet faucet.
type adminRPCServer struct {
	started uint32 // To be used atomically.
	stopped uint32 // To be used atomically.

	cfg *adminServerConfig

	httpServer *http.Server
	serveWg    sync.WaitGroup

	quit chan struct{}
	wg   sync.WaitGroup
}

// newAdminRPCServer creates a new admin server and registers all its routes.
func newAdminRPCServer(cfg *adminServerConfig) *adminRPCServer {
	s := &adminRPCServer{
		cfg:  cfg,
		quit: make(chan struct{}),
	}

	r := gin.New()
	r.Use(recoverPanics(), observeRequests("admin"))
	s.registerRoutes(r)

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// registerRoutes registers all admin routes on the given engine.
func (s *adminRPCServer) registerRoutes(r *gin.Engine) {
	admin := r.Group("/admin/v1")

	admin.GET("/ticker", s.tickerState)
	admin.POST("/ticker/tick", s.forceTick)
	admin.POST("/ticker/pause", s.pauseTicker)
	admin.POST("/ticker/resume", s.resumeTicker)
	admin.POST("/loglevel", s.setLogLevel)

	// The vault drives the auction lifecycle from a trusted host, so its
	// routes are only served here and never on the public API.
	vault := admin.Group("/vault")
	vault.POST("/auctions", s.initAuction)
	vault.POST("/auctions/:epoch/prices", s.setAuctionPrices)
	vault.POST("/auctions/:epoch/process", s.processAuction)

	faucet := admin.Group("/faucet")
	faucet.Use(s.requireFaucet())
	faucet.GET("/balance", s.balance)
	faucet.POST("/mint", s.mint)
	faucet.POST("/deliver/:epoch", s.deliverClaims)
	faucet.POST("/exercise", s.setExerciseValue)
	faucet.POST("/capacity", s.setCapacity)
}

// Start starts the admin server, making it ready to accept incoming requests.
func (s *adminRPCServer) Start() error {
	if !atomic.CompareAndSwapUint32(&s.started, 0, 1) {
		return nil
	}

	log.Infof("Starting admin server")

	s.serveWg.Add(1)
	go func() {
		defer s.serveWg.Done()

		log.Infof("Admin server listening on %s",
			s.cfg.Listener.Addr())
		err := s.httpServer.Serve(s.cfg.Listener)
		if err != nil && err != http.ErrServerClosed {
			log.Errorf("Admin server stopped with error: %v", err)
		}
	}()

	log.Infof("Admin server is now active")

	return nil
}

// Stop stops the server.
func (s *adminRPCServer) Stop() {
	if !atomic.CompareAndSwapUint32(&s.stopped, 0, 1) {
		return
	}

	log.Info("Stopping admin server")

	close(s.quit)
	s.wg.Wait()

	if err := s.httpServer.Close(); err != nil {
		log.Errorf("Error closing admin server: %v", err)
	}
	s.serveWg.Wait()

	log.Info("Admin server stopped")
}

// tickerResponse describes the state of the keeper ticker.
type tickerResponse struct {
	Active     bool      `json:"active"`
	Interval   string    `json:"interval"`
	LastTick   time.Time `json:"last_tick"`
	NextTickIn string    `json:"next_tick_in"`
}

func (s *adminRPCServer) tickerState(c *gin.Context) {
	t := s.cfg.Ticker
	c.JSON(http.StatusOK, &tickerResponse{
		Active:     t.IsActive(),
		Interval:   t.Interval().String(),
		LastTick:   t.LastTimedTick(),
		NextTickIn: t.NextTickIn().String(),
	})
}

// forceTick hands a tick to the keeper. The tick is delivered in the
// background since the keeper may be busy with a previous run.
func (s *adminRPCServer) forceTick(c *gin.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		done := make(chan struct{})
		go func() {
			if !s.cfg.Ticker.ForceTick() {
				log.Warnf("Forced tick dropped, ticker stopped")
			}
			close(done)
		}()

		select {
		case <-done:
		case <-s.quit:
		}
	}()

	log.Infof("Forced keeper tick requested")

	c.JSON(http.StatusAccepted, gin.H{"forced": true})
}

func (s *adminRPCServer) pauseTicker(c *gin.Context) {
	s.cfg.Ticker.Pause()
	log.Infof("Keeper ticker paused")

	c.JSON(http.StatusOK, gin.H{"active": s.cfg.Ticker.IsActive()})
}

func (s *adminRPCServer) resumeTicker(c *gin.Context) {
	s.cfg.Ticker.Resume()
	log.Infof("Keeper ticker resumed")

	c.JSON(http.StatusOK, gin.H{"active": s.cfg.Ticker.IsActive()})
}

// logLevelRequest is the body of a log level change. The level uses the same
// syntax as the debuglevel option.
type logLevelRequest struct {
	Level string `json:"level" binding:"required"`
}

func (s *adminRPCServer) setLogLevel(c *gin.Context) {
	var req logLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if req.Level == "show" {
		c.JSON(http.StatusOK, gin.H{
			"subsystems": logWriter.SupportedSubsystems(),
		})
		return
	}

	if err := build.ParseAndSetDebugLevels(req.Level, logWriter); err != nil {
		badRequest(c, err)
		return
	}

	log.Infof("Log level changed to %v", req.Level)

	c.JSON(http.StatusOK, gin.H{"level": req.Level})
}

// requireFaucet rejects faucet requests if the daemon doesn't run against the
// simulated host.
func (s *adminRPCServer) requireFaucet() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.Faucet == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "faucet disabled",
				"code":  "faucet_disabled",
			})
			return
		}

		c.Next()
	}
}

func (s *adminRPCServer) balance(c *gin.Context) {
	holder := account.Address(c.Query("address"))
	if holder.IsZero() {
		badRequest(c, fmt.Errorf("missing address"))
		return
	}

	asset := account.AssetID(c.DefaultQuery(
		"asset", string(account.CollateralAsset),
	))

	c.JSON(http.StatusOK, gin.H{
		"address": holder,
		"asset":   asset,
		"balance": s.cfg.Faucet.ledger.Balance(asset, holder),
	})
}

// mintRequest is the body of a faucet mint.
type mintRequest struct {
	Address account.Address  `json:"address"`
	Asset   account.AssetID  `json:"asset"`
	Amount  fixedpoint.Fixed `json:"amount"`
}

func (s *adminRPCServer) mint(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Asset == "" {
		req.Asset = account.CollateralAsset
	}

	err := s.cfg.Faucet.ledger.Mint(req.Asset, req.Address, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}

	log.Infof("Faucet minted %v of %v to %v", req.Amount, req.Asset,
		req.Address)

	c.JSON(http.StatusOK, gin.H{
		"address": req.Address,
		"asset":   req.Asset,
		"balance": s.cfg.Faucet.ledger.Balance(req.Asset, req.Address),
	})
}

// deliverClaims plays the vault delivering the position claims of all sold
// contracts of an epoch to the auction escrow. Claims the escrow already
// holds are not minted again.
func (s *adminRPCServer) deliverClaims(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}

	rec, err := s.cfg.Auctioneer.Auction(epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	escrow := s.cfg.Auctioneer.Escrow()
	held := s.cfg.Faucet.ledger.Balance(rec.ClaimID, escrow)
	missing, err := rec.TotalContractsSold.Sub(held)
	if err != nil {
		writeError(c, err)
		return
	}

	var delivered fixedpoint.Fixed
	if missing.IsPositive() {
		delivered = missing

		err := s.cfg.Faucet.ledger.Mint(rec.ClaimID, escrow, missing)
		if err != nil {
			writeError(c, err)
			return
		}

		log.Infof("Faucet delivered %v claims %v of epoch %d to "+
			"escrow", missing, rec.ClaimID, epoch)
	}

	c.JSON(http.StatusOK, gin.H{
		"claim_id":  rec.ClaimID,
		"delivered": delivered,
		"held":      s.cfg.Faucet.ledger.Balance(rec.ClaimID, escrow),
	})
}

// initAuctionRequest is the body of an auction initialization.
type initAuctionRequest struct {
	Epoch     auction.Epoch    `json:"epoch"`
	Strike    fixedpoint.Fixed `json:"strike"`
	ClaimID   account.AssetID  `json:"claim_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
}

func (s *adminRPCServer) initAuction(c *gin.Context) {
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req initAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rec, err := s.cfg.Auctioneer.Initialize(
		c.Request.Context(), caller, req.Epoch, req.Strike, req.ClaimID,
		req.StartTime, req.EndTime,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(
		http.StatusCreated,
		marshallAuction(rec, s.cfg.Auctioneer.cfg.Clock.Now()),
	)
}

// pricesRequest is the body of a curve price update.
type pricesRequest struct {
	MaxPrice fixedpoint.Fixed `json:"max_price"`
	MinPrice fixedpoint.Fixed `json:"min_price"`
}

func (s *adminRPCServer) setAuctionPrices(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	var req pricesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	cancelled, err := s.cfg.Auctioneer.SetAuctionPrices(
		c.Request.Context(), caller, epoch, req.MaxPrice, req.MinPrice,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func (s *adminRPCServer) processAuction(c *gin.Context) {
	epoch, ok := parseEpoch(c)
	if !ok {
		return
	}
	caller, ok := requireCaller(c)
	if !ok {
		return
	}

	err := s.cfg.Auctioneer.ProcessAuction(
		c.Request.Context(), caller, epoch,
	)
	if err != nil {
		writeError(c, err)
		return
	}

	rec, err := s.cfg.Auctioneer.Auction(epoch)
	if err != nil {
		writeError(c, err)
		return
	}

	now := s.cfg.Auctioneer.cfg.Clock.Now()
	c.JSON(http.StatusOK, marshallAuction(rec, now))
}

// exerciseRequest is the body of an exercise value update.
type exerciseRequest struct {
	ClaimID account.AssetID  `json:"claim_id"`
	Value   fixedpoint.Fixed `json:"value"`
}

func (s *adminRPCServer) setExerciseValue(c *gin.Context) {
	var req exerciseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.ClaimID == "" || req.ClaimID.IsCollateral() {
		writeError(c, ErrInvalidClaimID)
		return
	}

	err := s.cfg.Faucet.venue.SetExerciseValue(req.ClaimID, req.Value)
	switch {
	case errors.Is(err, chain.ErrExercisePublished):
		writeError(c, err)
		return

	case err != nil:
		badRequest(c, err)
		return
	}

	log.Infof("Exercise value of %v set to %v", req.ClaimID, req.Value)

	c.JSON(http.StatusOK, gin.H{
		"claim_id": req.ClaimID,
		"value":    req.Value,
	})
}

// capacityRequest is the body of a vault capacity override.
type capacityRequest struct {
	Epoch    auction.Epoch    `json:"epoch"`
	Capacity fixedpoint.Fixed `json:"capacity"`
}

func (s *adminRPCServer) setCapacity(c *gin.Context) {
	var req capacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Capacity < 0 {
		badRequest(c, fmt.Errorf("negative capacity %v", req.Capacity))
		return
	}

	s.cfg.Faucet.vault.SetCapacity(req.Epoch, req.Capacity)

	log.Infof("Vault capacity of epoch %d set to %v", req.Epoch,
		req.Capacity)

	c.JSON(http.StatusOK, gin.H{
		"epoch":    req.Epoch,
		"capacity": req.Capacity,
	})
}
