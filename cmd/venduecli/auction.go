package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli"
)

var auctionCommands = []cli.Command{
	{
		Name:      "auction",
		ShortName: "a",
		Usage:     "Inspect the auctions and run the permissionless steps.",
		Category:  "Auction",
		Subcommands: []cli.Command{
			listAuctionsCommand,
			showAuctionCommand,
			listOrdersCommand,
			processOrdersCommand,
			finalizeCommand,
			transferPremiumCommand,
		},
	},
}

var listAuctionsCommand = cli.Command{
	Name:      "list",
	ShortName: "l",
	Usage:     "list all initialized auctions",
	Action: wrapSimpleCmd(func(_ *cli.Context,
		client *restClient) ([]byte, error) {

		return client.do(http.MethodGet, "/v1/auctions", nil)
	}),
}

var showAuctionCommand = cli.Command{
	Name:      "show",
	ShortName: "s",
	Usage:     "show the auction of an epoch",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(
			http.MethodGet, fmt.Sprintf("/v1/auctions/%d", epoch),
			nil,
		)
	}),
}

var listOrdersCommand = cli.Command{
	Name:      "orders",
	ShortName: "o",
	Usage:     "list the orders of an epoch",
	ArgsUsage: "epoch",
	Flags: []cli.Flag{
		epochFlag,
		cli.StringFlag{
			Name:  "buyer",
			Usage: "only list the orders of this buyer",
		},
		cli.BoolFlag{
			Name:  "settlements",
			Usage: "list the current settlement of every order",
		},
	},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		if ctx.Bool("settlements") {
			return client.do(http.MethodGet, fmt.Sprintf(
				"/v1/auctions/%d/settlements", epoch,
			), nil)
		}

		path := fmt.Sprintf("/v1/auctions/%d/orders", epoch)
		if buyer := ctx.String("buyer"); buyer != "" {
			path += "?buyer=" + url.QueryEscape(buyer)
		}

		return client.do(http.MethodGet, path, nil)
	}),
}

var processOrdersCommand = cli.Command{
	Name:      "process",
	ShortName: "p",
	Usage:     "run the matching of an open auction",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/v1/auctions/%d/process", epoch,
		), nil)
	}),
}

var finalizeCommand = cli.Command{
	Name:      "finalize",
	ShortName: "f",
	Usage:     "finalize an auction whose window has passed",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/v1/auctions/%d/finalize", epoch,
		), nil)
	}),
}

var transferPremiumCommand = cli.Command{
	Name:      "transferpremium",
	ShortName: "tp",
	Usage:     "sweep the premium of a finalized auction to the vault",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/v1/auctions/%d/premium", epoch,
		), nil)
	}),
}
