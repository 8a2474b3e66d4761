package vendue

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/subscribe"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/monitoring"
	"github.com/optionvault/vendue/status"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"golang.org/x/time/rate"
)

const (
	// initTimeout is the maximum time we allow for the store to be
	// initialized and the auctions to be restored.
	initTimeout = 30 * time.Second

	// resignTimeout is the maximum time we wait for the leadership to be
	// handed back on shutdown.
	resignTimeout = 5 * time.Second
)

// A compile-time assertion to ensure the simulated host implements everything
// the auctioneer needs.
var (
	_ Ledger          = (*account.Ledger)(nil)
	_ Vault           = (*chain.SimVault)(nil)
	_ SettlementVenue = (*chain.SimVenue)(nil)
)

// Server is the main vendue server. It ties the auctioneer to its store, the
// simulated host, the keeper and all network facing services.
type Server struct {
	cfg *Config

	store      auctiondb.Store
	etcdClient *clientv3.Client

	ledger *account.Ledger
	vault  *chain.SimVault
	venue  *chain.SimVenue

	auctioneer *Auctioneer

	ticker *IntervalAwareForceTicker
	keeper *Keeper

	rpcServer   *rpcServer
	adminServer *adminRPCServer

	exporter       *monitoring.PrometheusExporter
	statusReporter *status.Reporter

	session  *concurrency.Session
	election *concurrency.Election

	// cancel aborts a pending leader campaign.
	cancel func()

	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewServer returns a new vendue server that is started in daemon mode and
// serves the REST APIs once started.
func NewServer(cfg *Config) (*Server, error) {
	// First, we'll set up our logging infrastructure so all operations
	// below will properly be logged.
	if err := initLogging(cfg); err != nil {
		return nil, fmt.Errorf("unable to init logging: %w", err)
	}

	// Print the version before we do any more set up to ensure we output
	// it.
	log.Infof("Version: %v", Version())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	store, etcdClient, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s store: %w",
			cfg.DB.Backend, err)
	}

	// Without a real vault attached, the daemon runs against a simulated
	// host that keeps all balances in memory.
	ledger := account.NewLedger()
	vault := chain.NewSimVault(account.Address(cfg.Auction.Vault), cfg.Sim)
	settlementVenue := chain.NewSimVenue(ledger)

	auctioneer := NewAuctioneer(AuctioneerConfig{
		Store:        store,
		Ledger:       ledger,
		Vault:        vault,
		Venue:        settlementVenue,
		Clock:        clock.NewDefaultClock(),
		Escrow:       account.Address(cfg.Auction.Escrow),
		MinOrderSize: cfg.Auction.MinOrderSize,
	})

	ticker := NewIntervalAwareForceTicker(
		cfg.Auction.KeeperInterval, clock.NewDefaultClock(),
	)

	cfg.Prometheus.Auctions = auctioneer

	server := &Server{
		cfg:        cfg,
		store:      store,
		etcdClient: etcdClient,
		ledger:     ledger,
		vault:      vault,
		venue:      settlementVenue,
		auctioneer: auctioneer,
		ticker:     ticker,
		keeper: NewKeeper(KeeperConfig{
			Auctioneer: auctioneer,
			Ticker:     ticker,
		}),
		exporter:       monitoring.NewPrometheusExporter(cfg.Prometheus),
		statusReporter: status.NewReporter(cfg.Status),
		cancel:         func() {},
		quit:           make(chan struct{}),
	}

	// The public API is served over TLS unless explicitly disabled.
	restCfg := &restServerConfig{
		Auctioneer:   auctioneer,
		Listener:     cfg.RESTListener,
		RequestRate:  rate.Limit(cfg.REST.RequestRate),
		RequestBurst: cfg.REST.RequestBurst,
	}
	if !cfg.REST.NoTLS {
		restCfg.TLSConfig, err = getTLSConfig(cfg.REST)
		if err != nil {
			return nil, fmt.Errorf("unable to load TLS config: %w",
				err)
		}
	}
	if restCfg.Listener == nil {
		restCfg.Listener, err = net.Listen("tcp", cfg.REST.Listen)
		if err != nil {
			return nil, fmt.Errorf("unable to listen on %s: %w",
				cfg.REST.Listen, err)
		}
	}
	server.rpcServer = newRPCServer(restCfg)

	adminCfg := &adminServerConfig{
		Auctioneer: auctioneer,
		Ticker:     ticker,
		Listener:   cfg.AdminListener,
	}
	if cfg.Sim.Faucet {
		adminCfg.Faucet = &simFaucet{
			ledger: ledger,
			vault:  vault,
			venue:  settlementVenue,
		}
	}
	if adminCfg.Listener == nil {
		adminCfg.Listener, err = net.Listen("tcp", cfg.REST.AdminListen)
		if err != nil {
			return nil, fmt.Errorf("unable to listen on %s: %w",
				cfg.REST.AdminListen, err)
		}
	}
	server.adminServer = newAdminRPCServer(adminCfg)

	return server, nil
}

// openStore creates the store of the configured backend. The etcd client is
// returned as well if the etcd backend is used.
func openStore(cfg *Config) (auctiondb.Store, *clientv3.Client, error) {
	switch cfg.DB.Backend {
	case backendEtcd:
		var mirror *auctiondb.SQLStore
		if cfg.Etcd.MirrorSQL {
			var err error
			mirror, err = auctiondb.NewSQLStore(cfg.SQL)
			if err != nil {
				return nil, nil, err
			}
		}

		store, err := auctiondb.NewEtcdStore(
			cfg.Network, cfg.Etcd.Host, cfg.Etcd.User,
			cfg.Etcd.Password, mirror,
		)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Client(), nil

	case backendPostgres:
		store, err := auctiondb.NewSQLStore(cfg.SQL)
		return store, nil, err

	case backendBolt:
		store, err := auctiondb.NewBoltStore(cfg.Bolt)
		return store, nil, err

	case backendMemory:
		return auctiondb.NewMemStore(), nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q",
			cfg.DB.Backend)
	}
}

// Start launches the status reporter and, once this instance leads its
// cluster, all services of the server. With leader election enabled the
// campaign runs in the background and Start returns right away.
func (s *Server) Start() error {
	var startErr error

	s.startOnce.Do(func() {
		log.Infof("Starting primary server")

		if err := s.statusReporter.Start(); err != nil {
			startErr = fmt.Errorf("unable to start status "+
				"reporter: %w", err)
			return
		}

		if !s.cfg.Etcd.LeaderElection {
			s.statusReporter.SetLeader(true)
			startErr = s.startServices()
			return
		}

		err := s.statusReporter.SetStatus(status.WaitingLeaderElection)
		if err != nil {
			startErr = err
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel

		s.wg.Add(1)
		go s.leadAndServe(ctx)
	})

	return startErr
}

// leadAndServe campaigns for the leadership and starts all services once it
// is won. Losing the leadership afterwards is a critical error that shuts
// the daemon down.
func (s *Server) leadAndServe(ctx context.Context) {
	defer s.wg.Done()

	if err := s.campaign(ctx); err != nil {
		select {
		case <-s.quit:
		default:
			log.Criticalf("Unable to win leader election: %v", err)
		}
		return
	}

	s.statusReporter.SetLeader(true)

	if err := s.startServices(); err != nil {
		log.Criticalf("Unable to start services: %v", err)
		return
	}

	select {
	case <-s.session.Done():
		s.statusReporter.SetLeader(false)
		err := s.statusReporter.SetStatus(status.LostLeadership)
		if err != nil {
			log.Errorf("Unable to update status: %v", err)
		}
		log.Critical("Lost leadership, shutting down")

	case <-s.quit:
	}
}

// campaign blocks until this instance is elected the leader of all instances
// sharing the etcd cluster.
func (s *Server) campaign(ctx context.Context) error {
	session, err := concurrency.NewSession(
		s.etcdClient, concurrency.WithTTL(
			int(s.cfg.Etcd.LeaderTTL/time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("unable to create etcd session: %w", err)
	}
	s.session = session
	s.election = concurrency.NewElection(
		session, s.cfg.Etcd.ElectionPrefix,
	)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "vendued"
	}

	log.Infof("Campaigning for leadership as %s on %s", hostname,
		s.cfg.Etcd.ElectionPrefix)

	if err := s.election.Campaign(ctx, hostname); err != nil {
		return err
	}

	log.Infof("Elected leader")

	return nil
}

// startServices restores the auctions and starts everything that acts on
// them.
func (s *Server) startServices() error {
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	err := s.statusReporter.SetStatus(status.RestoringAuctions)
	if err != nil {
		return err
	}

	if err := s.store.Init(ctx); err != nil {
		return fmt.Errorf("unable to initialize %s store: %w",
			s.cfg.DB.Backend, err)
	}

	if err := s.auctioneer.Start(ctx); err != nil {
		return fmt.Errorf("unable to start auctioneer: %w", err)
	}

	// The simulated vault learns the maturity of every option from the
	// auctions it initialized.
	sub, err := s.auctioneer.Subscribe()
	if err != nil {
		return fmt.Errorf("unable to subscribe to auctions: %w", err)
	}
	for _, rec := range s.auctioneer.Auctions() {
		s.vault.ExpireAfter(rec.Epoch, rec.EndTime)
	}
	s.wg.Add(1)
	go s.scheduleExpiries(sub)

	if err := s.keeper.Start(); err != nil {
		return fmt.Errorf("unable to start keeper: %w", err)
	}

	if s.cfg.Prometheus.Active {
		log.Infof("Starting Prometheus exporter: @%v",
			s.cfg.Prometheus.ListenAddr)
		if err := s.exporter.Start(); err != nil {
			return fmt.Errorf("unable to start Prometheus "+
				"exporter: %w", err)
		}
	}

	if err := s.rpcServer.Start(); err != nil {
		return fmt.Errorf("unable to start REST server: %w", err)
	}

	// And finally the admin server.
	if err := s.adminServer.Start(); err != nil {
		return fmt.Errorf("unable to start admin server: %w", err)
	}

	return s.statusReporter.SetStatus(status.UpAndRunning)
}

// scheduleExpiries registers the option maturity of every newly initialized
// auction with the simulated vault.
func (s *Server) scheduleExpiries(sub *subscribe.Client) {
	defer s.wg.Done()
	defer sub.Cancel()

	for {
		select {
		case update := <-sub.Updates():
			event, ok := update.(*StatusChangedEvent)
			if !ok || event.Status != auction.StatusInitialized {
				continue
			}

			rec, err := s.auctioneer.Auction(event.Epoch)
			if err != nil {
				log.Errorf("Unable to schedule option expiry: "+
					"%v", err)
				continue
			}
			s.vault.ExpireAfter(rec.Epoch, rec.EndTime)

		case <-sub.Quit():
			return

		case <-s.quit:
			return
		}
	}
}

// Stop shuts down the server, including all client connections and network
// listeners.
func (s *Server) Stop() error {
	log.Info("Received shutdown signal, stopping server")

	var stopErr error

	s.stopOnce.Do(func() {
		if err := s.statusReporter.SetStatus(
			status.ShuttingDown,
		); err != nil {
			log.Errorf("Unable to update status: %v", err)
		}

		close(s.quit)
		s.cancel()

		s.adminServer.Stop()
		s.rpcServer.Stop()
		s.keeper.Stop()

		if err := s.exporter.Stop(); err != nil {
			log.Errorf("Unable to stop Prometheus exporter: %v",
				err)
		}

		if err := s.auctioneer.Stop(); err != nil {
			stopErr = fmt.Errorf("unable to stop auctioneer: %w",
				err)
		}

		s.wg.Wait()

		if s.election != nil {
			ctx, cancel := context.WithTimeout(
				context.Background(), resignTimeout,
			)
			if err := s.election.Resign(ctx); err != nil {
				log.Errorf("Unable to resign leadership: %v",
					err)
			}
			cancel()
		}
		if s.session != nil {
			if err := s.session.Close(); err != nil {
				log.Errorf("Unable to close etcd session: %v",
					err)
			}
		}

		if err := s.store.Close(); err != nil {
			log.Errorf("Unable to close store: %v", err)
		}

		ctx, cancel := context.WithTimeout(
			context.Background(), resignTimeout,
		)
		defer cancel()
		if err := s.statusReporter.Stop(ctx); err != nil {
			log.Errorf("Unable to stop status reporter: %v", err)
		}
	})

	return stopErr
}
