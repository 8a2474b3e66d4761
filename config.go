package vendue

import (
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/monitoring"
	"github.com/optionvault/vendue/status"
)

const (
	backendEtcd     = "etcd"
	backendPostgres = "postgres"
	backendBolt     = "bolt"
	backendMemory   = "memory"
)

type AuctionConfig struct {
	MinOrderSize   fixedpoint.Fixed `long:"minordersize" description:"The smallest number of contracts an order can ask for"`
	Vault          string           `long:"vault" description:"Ledger address of the vault that initializes and prices the auctions"`
	Escrow         string           `long:"escrow" description:"Ledger address of the auction escrow that holds order costs and claims"`
	KeeperInterval time.Duration    `long:"keeperinterval" description:"Interval at which open auctions are checked for expiry: 30s, 1m, etc"`
}

type DBConfig struct {
	Backend string `long:"backend" description:"The database backend to store auctions in" choice:"etcd" choice:"postgres" choice:"bolt" choice:"memory"`
}

type EtcdConfig struct {
	Host     string `long:"host" description:"etcd instance address"`
	User     string `long:"user" description:"etcd user name"`
	Password string `long:"password" description:"etcd password"`

	LeaderElection bool          `long:"leaderelection" description:"Campaign for leadership among all instances sharing the etcd cluster before serving requests"`
	ElectionPrefix string        `long:"electionprefix" description:"Key prefix of the leader election"`
	LeaderTTL      time.Duration `long:"leaderttl" description:"Time after which the leadership of an unresponsive instance expires"`

	MirrorSQL bool `long:"mirrorsql" description:"Mirror all auction state to the sql database configured in the sql group"`
}

type RESTConfig struct {
	Listen      string `long:"listen" description:"Address to listen on for REST clients"`
	AdminListen string `long:"adminlisten" description:"Address to listen on for REST admin clients"`

	NoTLS           bool     `long:"notls" description:"Serve the public API over plain HTTP"`
	TLSCertPath     string   `long:"tlscertpath" description:"Path to write the TLS certificate for the REST API"`
	TLSKeyPath      string   `long:"tlskeypath" description:"Path to write the TLS private key for the REST API"`
	TLSExtraIPs     []string `long:"tlsextraip" description:"Adds an extra ip to the generated certificate"`
	TLSExtraDomains []string `long:"tlsextradomain" description:"Adds an extra domain to the generated certificate"`

	RequestRate  float64 `long:"requestrate" description:"Sustained requests per second a single caller may send, 0 disables the limit"`
	RequestBurst int     `long:"requestburst" description:"Number of requests a single caller may send at once"`
}

type Config struct {
	Network string `long:"network" description:"network to run on" choice:"regtest" choice:"testnet" choice:"mainnet" choice:"simnet"`
	BaseDir string `long:"basedir" description:"The base directory where vendued stores all its data"`

	LogDir         string `long:"logdir" description:"Directory to log output."`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	Profile    string `long:"profile" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65535"`

	Auction    *AuctionConfig               `group:"auction" namespace:"auction"`
	DB         *DBConfig                    `group:"db" namespace:"db"`
	Etcd       *EtcdConfig                  `group:"etcd" namespace:"etcd"`
	SQL        *auctiondb.SQLConfig         `group:"sql" namespace:"sql"`
	Bolt       *auctiondb.BoltConfig        `group:"bolt" namespace:"bolt"`
	Prometheus *monitoring.PrometheusConfig `group:"prometheus" namespace:"prometheus"`
	Status     *status.Config               `group:"status" namespace:"status"`
	REST       *RESTConfig                  `group:"rest" namespace:"rest"`
	Sim        *chain.SimConfig             `group:"sim" namespace:"sim"`

	// RESTListener is a network listener that the public REST server
	// should listen on instead of REST.Listen.
	RESTListener net.Listener

	// AdminListener is a network listener that the admin server should
	// listen on instead of REST.AdminListen.
	AdminListener net.Listener
}

// DefaultConfig returns the default config for a vendue server.
func DefaultConfig() *Config {
	return &Config{
		Network:        "mainnet",
		BaseDir:        DefaultBaseDir,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,
		Auction: &AuctionConfig{
			MinOrderSize:   defaultMinOrderSize,
			Vault:          "vault",
			Escrow:         "auction-escrow",
			KeeperInterval: defaultKeeperInterval,
		},
		DB: &DBConfig{
			Backend: backendEtcd,
		},
		Etcd: &EtcdConfig{
			Host:           "localhost:2379",
			ElectionPrefix: defaultElectionPrefix,
			LeaderTTL:      defaultLeaderTTL,
		},
		SQL: &auctiondb.SQLConfig{
			Host:               "localhost",
			Port:               5432,
			User:               "vendue",
			Password:           "vendue",
			DBName:             "vendue",
			MaxOpenConnections: defaultMaxSQLConnections,
		},
		Bolt: &auctiondb.BoltConfig{},
		Prometheus: &monitoring.PrometheusConfig{
			ListenAddr: "localhost:8989",
		},
		Status: status.DefaultConfig(),
		REST: &RESTConfig{
			Listen:       defaultRESTAddr,
			AdminListen:  defaultAdminAddr,
			TLSCertPath:  defaultTLSCertPath,
			TLSKeyPath:   defaultTLSKeyPath,
			RequestRate:  defaultRequestRate,
			RequestBurst: defaultRequestBurst,
		},
		Sim: chain.DefaultSimConfig(),
	}
}

// Validate checks the parsed config for values that can't work together and
// fills in the ones that depend on the network.
func (c *Config) Validate() error {
	if c.Bolt.DBPath == "" {
		c.Bolt.DBPath = filepath.Join(c.BaseDir, c.Network)
	}

	if !c.Auction.MinOrderSize.IsPositive() {
		return fmt.Errorf("minimum order size must be positive")
	}
	if c.Auction.Vault == "" || c.Auction.Escrow == "" {
		return fmt.Errorf("vault and escrow addresses must be set")
	}
	if c.Auction.Vault == c.Auction.Escrow {
		return fmt.Errorf("vault and escrow must be distinct addresses")
	}
	if c.Auction.KeeperInterval <= 0 {
		return fmt.Errorf("keeper interval must be positive")
	}

	if c.Etcd.LeaderElection && c.DB.Backend != backendEtcd {
		return fmt.Errorf("leader election requires the %s backend",
			backendEtcd)
	}
	if c.Etcd.LeaderTTL < time.Second {
		return fmt.Errorf("leader ttl must be at least one second")
	}

	if c.Sim.Faucet && c.Network == "mainnet" {
		return fmt.Errorf("the faucet cannot be enabled on mainnet")
	}

	if c.REST.RequestRate < 0 {
		return fmt.Errorf("request rate cannot be negative")
	}
	if c.REST.RequestRate > 0 && c.REST.RequestBurst < 1 {
		return fmt.Errorf("request burst must be at least 1 when rate " +
			"limiting is enabled")
	}

	return nil
}
