package main

import (
	"fmt"
	"os"

	"github.com/optionvault/vendue"
	"github.com/urfave/cli"
)

func fatal(err error) {
	_, _ = fmt.Fprintf(os.Stderr, "[venduecli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = vendue.Version()
	app.Name = "venduecli"
	app.Usage = "control plane for the vendue auction server"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "restserver",
			Value: "https://localhost:12080",
			Usage: "vendued public REST address",
		},
		cli.StringFlag{
			Name:  "adminserver",
			Value: "http://127.0.0.1:13370",
			Usage: "vendued admin REST address",
		},
		cli.StringFlag{
			Name:  "tlscertpath",
			Usage: "path to the TLS certificate of vendued, the " +
				"system roots are used if unset",
		},
		cli.StringFlag{
			Name:   "caller",
			EnvVar: "VENDUE_CALLER",
			Usage: "ledger address the buyer and vault commands " +
				"act on behalf of",
		},
	}
	app.Commands = append(app.Commands, auctionCommands...)
	app.Commands = append(app.Commands, orderCommands...)
	app.Commands = append(app.Commands, vaultCommands...)
	app.Commands = append(app.Commands, adminCommands...)

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}
