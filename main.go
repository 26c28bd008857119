package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/site-harvest/internal/db"
	"github.com/dtnitsch/site-harvest/internal/harvest"
	"github.com/dtnitsch/site-harvest/internal/serve"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "site-harvest",
		Usage:   "Mirror a website from its Wayback Machine captures into a browsable local tree",
		Version: version,
		Commands: []*cli.Command{
			{
				Name:      "harvest",
				Usage:     "Download the captures of a domain, discover missing assets and rewrite links",
				ArgsUsage: "[domain]",
				Flags:     harvest.HarvestFlags(),
				Action:    harvest.HarvestAction,
			},
			{
				Name:      "rewrite",
				Usage:     "Rewrite archive links of an existing mirror into relative file links",
				ArgsUsage: "[domain]",
				Flags:     harvest.RewriteFlags(),
				Action:    harvest.RewriteAction,
			},
			{
				Name:      "serve",
				Usage:     "Preview a mirror over HTTP",
				ArgsUsage: "[dir]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Value:   "mirror",
						Usage:   "Mirror directory to serve",
					},
					&cli.StringFlag{
						Name:  "addr",
						Value: "127.0.0.1:8080",
						Usage: "Listen address",
					},
				}, harvest.CommonFlags()...),
				Action: serve.ServeAction,
			},
			{
				Name:      "runs",
				Usage:     "List recorded runs, or show one run",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "Run ledger path"},
					&cli.StringFlag{Name: "domain", Usage: "Only runs of this domain"},
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "Number of runs to show"},
				},
				Action: db.RunsAction,
			},
			{
				Name:      "failures",
				Usage:     "List the failed URLs of a run (default: latest)",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "db", Usage: "Run ledger path"},
					&cli.StringFlag{Name: "phase", Usage: "Only failures of this phase, e.g. cdx_download"},
				},
				Action: db.FailuresAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}
