package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli"
)

var adminCommands = []cli.Command{
	{
		Name:     "admin",
		Usage:    "Control the keeper, the logs and the simnet faucet.",
		Category: "Admin",
		Subcommands: []cli.Command{
			tickerStateCommand,
			tickCommand,
			pauseTickerCommand,
			resumeTickerCommand,
			logLevelCommand,
			balanceCommand,
			mintCommand,
			deliverCommand,
			setExerciseCommand,
			setCapacityCommand,
		},
	},
}

var tickerStateCommand = cli.Command{
	Name:  "ticker",
	Usage: "show the state of the keeper ticker",
	Action: wrapAdminCmd(func(_ *cli.Context,
		client *restClient) ([]byte, error) {

		return client.do(http.MethodGet, "/admin/v1/ticker", nil)
	}),
}

var tickCommand = cli.Command{
	Name:      "tick",
	ShortName: "t",
	Usage:     "manually force a keeper run",
	Action: wrapAdminCmd(func(_ *cli.Context,
		client *restClient) ([]byte, error) {

		return client.do(http.MethodPost, "/admin/v1/ticker/tick", nil)
	}),
}

var pauseTickerCommand = cli.Command{
	Name:  "pause",
	Usage: "pause the timed keeper runs",
	Action: wrapAdminCmd(func(_ *cli.Context,
		client *restClient) ([]byte, error) {

		return client.do(http.MethodPost, "/admin/v1/ticker/pause", nil)
	}),
}

var resumeTickerCommand = cli.Command{
	Name:  "resume",
	Usage: "resume the timed keeper runs",
	Action: wrapAdminCmd(func(_ *cli.Context,
		client *restClient) ([]byte, error) {

		return client.do(
			http.MethodPost, "/admin/v1/ticker/resume", nil,
		)
	}),
}

var logLevelCommand = cli.Command{
	Name:      "loglevel",
	Usage:     "change the log levels of the daemon",
	ArgsUsage: "level",
	Description: `
	Uses the syntax of the debuglevel option, for example "debug" or
	"VNDU=debug,ADB=trace". Use "show" to list all subsystems.
	`,
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		if ctx.NArg() == 0 {
			return nil, fmt.Errorf("level argument missing")
		}

		return client.do(http.MethodPost, "/admin/v1/loglevel",
			map[string]string{"level": ctx.Args().First()})
	}),
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Usage:     "show a balance of the simulated ledger",
	ArgsUsage: "address",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "asset",
			Usage: "the asset to show, defaults to the collateral",
		},
	},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		if ctx.NArg() == 0 {
			return nil, fmt.Errorf("address argument missing")
		}

		query := url.Values{}
		query.Set("address", ctx.Args().First())
		if asset := ctx.String("asset"); asset != "" {
			query.Set("asset", asset)
		}

		return client.do(http.MethodGet,
			"/admin/v1/faucet/balance?"+query.Encode(), nil)
	}),
}

var mintCommand = cli.Command{
	Name:      "mint",
	Usage:     "mint collateral or claims on the simulated ledger",
	ArgsUsage: "address amount",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "asset",
			Usage: "the asset to mint, defaults to the collateral",
		},
	},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		if ctx.NArg() != 2 {
			return nil, fmt.Errorf("address and amount required")
		}

		return client.do(http.MethodPost, "/admin/v1/faucet/mint",
			map[string]string{
				"address": ctx.Args().Get(0),
				"amount":  ctx.Args().Get(1),
				"asset":   ctx.String("asset"),
			})
	}),
}

var deliverCommand = cli.Command{
	Name:      "deliver",
	Usage:     "deliver the claims of all sold contracts to the escrow",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/admin/v1/faucet/deliver/%d", epoch,
		), nil)
	}),
}

var setExerciseCommand = cli.Command{
	Name:      "setexercise",
	Usage:     "set the cash value of a matured claim",
	ArgsUsage: "claim value",
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		if ctx.NArg() != 2 {
			return nil, fmt.Errorf("claim and value required")
		}

		return client.do(http.MethodPost, "/admin/v1/faucet/exercise",
			map[string]string{
				"claim_id": ctx.Args().Get(0),
				"value":    ctx.Args().Get(1),
			})
	}),
}

var setCapacityCommand = cli.Command{
	Name:      "setcapacity",
	Usage:     "override the contracts the vault offers in an epoch",
	ArgsUsage: "capacity",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		if !ctx.IsSet("epoch") || ctx.NArg() == 0 {
			return nil, fmt.Errorf("epoch and capacity required")
		}

		return client.do(http.MethodPost, "/admin/v1/faucet/capacity",
			map[string]interface{}{
				"epoch":    ctx.Uint64("epoch"),
				"capacity": ctx.Args().First(),
			})
	}),
}
