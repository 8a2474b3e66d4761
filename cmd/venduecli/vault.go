package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli"
)

var vaultCommands = []cli.Command{
	{
		Name:      "vault",
		ShortName: "v",
		Usage:     "Run the auction lifecycle as the vault via the admin API.",
		Category:  "Vault",
		Subcommands: []cli.Command{
			initAuctionCommand,
			setPricesCommand,
			processAuctionCommand,
		},
	},
}

var initAuctionCommand = cli.Command{
	Name:      "init",
	ShortName: "i",
	Usage:     "initialize the auction of a new epoch",
	ArgsUsage: "epoch",
	Flags: []cli.Flag{
		epochFlag,
		cli.StringFlag{
			Name:  "strike",
			Usage: "the strike price of the option",
		},
		cli.StringFlag{
			Name:  "claim",
			Usage: "the asset ID of the option's position claim",
		},
		cli.StringFlag{
			Name: "start",
			Usage: "the start of the auction window in RFC3339, " +
				"defaults to now",
		},
		cli.DurationFlag{
			Name:  "duration",
			Value: time.Hour,
			Usage: "the length of the auction window",
		},
	},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}
		if !ctx.IsSet("strike") || !ctx.IsSet("claim") {
			return nil, fmt.Errorf("strike and claim are required")
		}

		start := time.Now()
		if ctx.IsSet("start") {
			start, err = time.Parse(time.RFC3339, ctx.String("start"))
			if err != nil {
				return nil, fmt.Errorf("invalid start: %v", err)
			}
		}

		return client.do(http.MethodPost, "/admin/v1/vault/auctions",
			map[string]interface{}{
				"epoch":      epoch,
				"strike":     ctx.String("strike"),
				"claim_id":   ctx.String("claim"),
				"start_time": start,
				"end_time":   start.Add(ctx.Duration("duration")),
			})
	}),
}

var setPricesCommand = cli.Command{
	Name:      "setprices",
	ShortName: "sp",
	Usage:     "set the price curve of an auction",
	Description: `
	Sets the premium per contract at the start and at the end of the
	auction window. Prices that don't form a descending curve cancel the
	auction.
	`,
	ArgsUsage: "epoch",
	Flags: []cli.Flag{
		epochFlag,
		cli.StringFlag{
			Name:  "max",
			Usage: "the price at the start of the window",
		},
		cli.StringFlag{
			Name:  "min",
			Usage: "the price at the end of the window",
		},
	},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}
		if !ctx.IsSet("max") || !ctx.IsSet("min") {
			return nil, fmt.Errorf("max and min are required")
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/admin/v1/vault/auctions/%d/prices", epoch,
		), map[string]string{
			"max_price": ctx.String("max"),
			"min_price": ctx.String("min"),
		})
	}),
}

var processAuctionCommand = cli.Command{
	Name:      "process",
	ShortName: "p",
	Usage:     "settle a finalized auction against the vault",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapAdminCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/admin/v1/vault/auctions/%d/process", epoch,
		), nil)
	}),
}
