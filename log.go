// As this file is very similar in every package, ignore the linter here.
// nolint:dupl
package vendue

import (
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
	"github.com/lightningnetwork/lnd/signal"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auctiondb"
	"github.com/optionvault/vendue/chain"
	"github.com/optionvault/vendue/monitoring"
	"github.com/optionvault/vendue/status"
	"github.com/optionvault/vendue/venue"
	"github.com/optionvault/vendue/venue/matching"
)

const Subsystem = "VNDU"

var (
	logWriter = build.NewRotatingLogWriter()
	log       = build.NewSubLogger(Subsystem, nil)
	rpcLog    = build.NewSubLogger("RPCS", nil)
)

// SetupLoggers initializes all package-global logger variables.
func SetupLoggers(root *build.RotatingLogWriter, intercept signal.Interceptor) {
	genLogger := genSubLogger(root, intercept)

	logWriter = root
	log = build.NewSubLogger(Subsystem, genLogger)
	rpcLog = build.NewSubLogger("RPCS", genLogger)

	setSubLogger(root, Subsystem, log, nil)
	setSubLogger(root, "RPCS", rpcLog, nil)
	addSubLogger(root, auctiondb.Subsystem, intercept, auctiondb.UseLogger)
	addSubLogger(root, "SGNL", intercept, signal.UseLogger)
	addSubLogger(root, account.Subsystem, intercept, account.UseLogger)
	addSubLogger(root, chain.Subsystem, intercept, chain.UseLogger)
	addSubLogger(root, venue.Subsystem, intercept, venue.UseLogger)
	addSubLogger(root, matching.Subsystem, intercept, matching.UseLogger)
	addSubLogger(root, monitoring.Subsystem, intercept, monitoring.UseLogger)
	addSubLogger(root, status.Subsystem, intercept, status.UseLogger)
}

// genSubLogger creates a logger for a subsystem. We provide an instance of
// a signal.Interceptor to be able to shutdown in the case of a critical error.
func genSubLogger(root *build.RotatingLogWriter,
	interceptor signal.Interceptor) func(string) btclog.Logger {

	// Create a shutdown function which will request shutdown from our
	// interceptor if it is listening.
	shutdown := func() {
		if !interceptor.Listening() {
			return
		}

		interceptor.RequestShutdown()
	}

	return func(tag string) btclog.Logger {
		return root.GenSubLogger(tag, shutdown)
	}
}

// addSubLogger is a helper method to conveniently create and register the
// logger of a sub system.
func addSubLogger(root *build.RotatingLogWriter, subsystem string,
	interceptor signal.Interceptor, useLogger func(btclog.Logger)) {

	logger := build.NewSubLogger(subsystem, genSubLogger(root, interceptor))
	setSubLogger(root, subsystem, logger, useLogger)
}

// setSubLogger is a helper method to conveniently register the logger of a sub
// system.
func setSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger btclog.Logger, useLogger func(btclog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	if useLogger != nil {
		useLogger(logger)
	}
}
