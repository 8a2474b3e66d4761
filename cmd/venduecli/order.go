package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/urfave/cli"
)

var orderCommands = []cli.Command{
	{
		Name:      "order",
		ShortName: "o",
		Usage:     "Submit, cancel and withdraw orders of the caller.",
		Category:  "Order",
		Subcommands: []cli.Command{
			limitOrderCommand,
			marketOrderCommand,
			cancelOrderCommand,
			withdrawCommand,
			previewWithdrawCommand,
		},
	},
}

var orderFlags = []cli.Flag{
	epochFlag,
	cli.StringFlag{
		Name:  "price",
		Usage: "the highest premium per contract the order pays",
	},
	cli.StringFlag{
		Name:  "size",
		Usage: "the number of contracts the order asks for",
	},
}

// submitOrder posts a new order of the given origin.
func submitOrder(ctx *cli.Context, client *restClient,
	origin string) ([]byte, error) {

	epoch, err := epochArg(ctx)
	if err != nil {
		return nil, err
	}

	if !ctx.IsSet("size") {
		return nil, fmt.Errorf("size missing")
	}
	if origin == "limit" && !ctx.IsSet("price") {
		return nil, fmt.Errorf("price missing")
	}

	body := map[string]string{
		"size": ctx.String("size"),
	}
	if ctx.IsSet("price") {
		body["price"] = ctx.String("price")
	}

	return client.do(http.MethodPost, fmt.Sprintf(
		"/v1/auctions/%d/orders/%s", epoch, origin,
	), body)
}

var limitOrderCommand = cli.Command{
	Name:      "limit",
	ShortName: "l",
	Usage:     "submit a limit order",
	ArgsUsage: "epoch",
	Flags:     orderFlags,
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		return submitOrder(ctx, client, "limit")
	}),
}

var marketOrderCommand = cli.Command{
	Name:      "market",
	ShortName: "m",
	Usage:     "submit a market order at the current curve price",
	Description: `
	Buys at the current price of the auction's descending price curve.
	The price flag is ignored by the server and only the size is used.
	`,
	ArgsUsage: "epoch",
	Flags:     orderFlags,
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		return submitOrder(ctx, client, "market")
	}),
}

var cancelOrderCommand = cli.Command{
	Name:      "cancel",
	ShortName: "c",
	Usage:     "cancel a limit order of the caller",
	ArgsUsage: "epoch",
	Flags: []cli.Flag{
		epochFlag,
		cli.Uint64Flag{
			Name:  "id",
			Usage: "the ID of the order",
		},
	},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}
		if !ctx.IsSet("id") {
			return nil, fmt.Errorf("order id missing")
		}

		return client.do(http.MethodDelete, fmt.Sprintf(
			"/v1/auctions/%d/orders/%d", epoch, ctx.Uint64("id"),
		), nil)
	}),
}

var withdrawCommand = cli.Command{
	Name:      "withdraw",
	ShortName: "w",
	Usage:     "withdraw the refunds and contracts of the caller",
	ArgsUsage: "epoch",
	Flags:     []cli.Flag{epochFlag},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		return client.do(http.MethodPost, fmt.Sprintf(
			"/v1/auctions/%d/withdrawal", epoch,
		), nil)
	}),
}

var previewWithdrawCommand = cli.Command{
	Name:      "preview",
	ShortName: "p",
	Usage:     "show what a withdrawal would pay out",
	ArgsUsage: "epoch",
	Flags: []cli.Flag{
		epochFlag,
		cli.StringFlag{
			Name:  "buyer",
			Usage: "preview for this buyer instead of the caller",
		},
	},
	Action: wrapSimpleCmd(func(ctx *cli.Context,
		client *restClient) ([]byte, error) {

		epoch, err := epochArg(ctx)
		if err != nil {
			return nil, err
		}

		path := fmt.Sprintf("/v1/auctions/%d/withdrawal", epoch)
		if buyer := ctx.String("buyer"); buyer != "" {
			path += "?buyer=" + url.QueryEscape(buyer)
		}

		return client.do(http.MethodGet, path, nil)
	}),
}
