package vendue

import (
	"crypto/tls"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/cert"
	"github.com/optionvault/vendue/fixedpoint"
)

const (
	// defaultRESTPort is the default port that the public REST server
	// listens on.
	defaultRESTPort = 12080

	// defaultAdminPort is the default port that the admin server listens
	// on.
	defaultAdminPort = 13370

	// defaultTLSCertFilename is the default file name for the TLS
	// certificate.
	defaultTLSCertFilename = "tls.cert"

	// defaultTLSKeyFilename is the default file name for the TLS key.
	defaultTLSKeyFilename = "tls.key"

	// defaultLogLevel is the default log level that is used for all loggers
	// and sub systems.
	defaultLogLevel = "info"

	// defaultLogDirname is the default directory name where the log files
	// will be stored.
	defaultLogDirname = "logs"

	// defaultLogFilename is the default file name for the daemon log file.
	defaultLogFilename = "vendued.log"

	// defaultMaxLogFiles is the default number of log files to keep.
	defaultMaxLogFiles = 3

	// defaultMaxLogFileSize is the default file size of 10 MB that a log
	// file can grow to before it is rotated.
	defaultMaxLogFileSize = 10

	// defaultKeeperInterval is the default amount of time between two
	// expiry checks of the open auctions.
	defaultKeeperInterval = time.Minute

	// defaultRequestRate is the default number of requests per second a
	// single caller may send to the public API.
	defaultRequestRate = 10

	// defaultRequestBurst is the default number of requests a single
	// caller may send at once.
	defaultRequestBurst = 20

	// defaultElectionPrefix is the etcd key prefix all instances campaign
	// on.
	defaultElectionPrefix = "/vendue/leader"

	// defaultLeaderTTL is the default lease time of the leader.
	defaultLeaderTTL = 10 * time.Second

	// DefaultAutogenValidity is the default validity of a self-signed
	// certificate. The value corresponds to 14 months
	// (14 months * 30 days * 24 hours).
	DefaultAutogenValidity = 14 * 30 * 24 * time.Hour

	// defaultMaxSQLConnections is the default number of connections we
	// allow the SQL client to open simultaneously against the server.
	defaultMaxSQLConnections = 10
)

var (
	// DefaultBaseDir is the default root data directory where vendued
	// will store all its data. On UNIX like systems this will resolve to
	// ~/.vendued. Below this directory the logs and network directory
	// will be created.
	DefaultBaseDir = btcutil.AppDataDir("vendued", false)

	// defaultMinOrderSize is a hundredth of a contract.
	defaultMinOrderSize = fixedpoint.MustParse("0.01")

	defaultRESTAddr    = fmt.Sprintf(":%d", defaultRESTPort)
	defaultAdminAddr   = fmt.Sprintf("127.0.0.1:%d", defaultAdminPort)
	defaultTLSCertPath = filepath.Join(
		DefaultBaseDir, defaultTLSCertFilename,
	)
	defaultTLSKeyPath = filepath.Join(
		DefaultBaseDir, defaultTLSKeyFilename,
	)
	defaultLogDir = filepath.Join(DefaultBaseDir, defaultLogDirname)
)

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// getTLSConfig examines the REST configuration to create a *tls.Config for the
// public server. A self-signed certificate is generated on first start.
func getTLSConfig(cfg *RESTConfig) (*tls.Config, error) {
	// Ensure we create TLS key and certificate if they don't exist
	if !fileExists(cfg.TLSCertPath) && !fileExists(cfg.TLSKeyPath) {
		err := cert.GenCertPair(
			"vendued autogenerated cert", cfg.TLSCertPath,
			cfg.TLSKeyPath, cfg.TLSExtraIPs, cfg.TLSExtraDomains,
			false, DefaultAutogenValidity,
		)
		if err != nil {
			return nil, err
		}
	}
	certData, _, err := cert.LoadCert(cfg.TLSCertPath, cfg.TLSKeyPath)
	if err != nil {
		return nil, err
	}

	return cert.TLSConfFromCert(certData), nil
}

// initLogging sets up the log rotator in the network's log directory and
// applies the configured debug levels.
func initLogging(cfg *Config) error {
	// Append the network type to the log directory so it is "namespaced"
	// per network in the same fashion as the data directory.
	logDir := filepath.Join(cfg.LogDir, cfg.Network)

	// Initialize logging at the default logging level.
	err := logWriter.InitLogRotator(
		filepath.Join(logDir, defaultLogFilename),
		cfg.MaxLogFileSize, cfg.MaxLogFiles,
	)
	if err != nil {
		return err
	}

	return build.ParseAndSetDebugLevels(cfg.DebugLevel, logWriter)
}
