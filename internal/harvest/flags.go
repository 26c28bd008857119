package harvest

import (
	"github.com/urfave/cli/v2"
)

// CommonFlags are shared by every command that logs.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "log-format",
			Value: "json",
			Usage: "Log format on stderr: json or text",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Log every file (debug level)",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Only log errors",
		},
	}
}

// ledgerFlags select the run ledger.
func ledgerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "db",
			Usage: "Run ledger path (default: site-harvest.db next to the binary)",
		},
		&cli.BoolFlag{
			Name:  "no-db",
			Usage: "Do not record the run in the ledger",
		},
	}
}

// targetFlags name the mirror a command works on.
func targetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML config file; flags override its values",
		},
		&cli.StringFlag{
			Name:    "domain",
			Aliases: []string{"d"},
			Usage:   "Domain to mirror, e.g. example.org (also accepted as the first argument)",
		},
		&cli.StringFlag{
			Name:    "timestamp",
			Aliases: []string{"t"},
			Usage:   "Target Wayback timestamp, 4-14 digits (default: today)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output directory (default: mirror)",
		},
		&cli.BoolFlag{
			Name:  "catalog",
			Usage: "Write catalog.yaml describing every HTML page",
		},
		&cli.StringFlag{
			Name:  "format",
			Value: "summary",
			Usage: "Report on stdout: summary, json or yaml",
		},
	}
}

// HarvestFlags are the flags of the harvest command.
func HarvestFlags() []cli.Flag {
	flags := append(targetFlags(),
		&cli.StringFlag{
			Name:  "wayback-base",
			Usage: "Archive host (default: https://web.archive.org)",
		},
		&cli.StringFlag{
			Name:  "user-agent",
			Usage: "User-Agent sent to the archive",
		},
		&cli.DurationFlag{
			Name:  "delay",
			Usage: "Minimum delay between archive requests (default: 1s)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Per-request timeout (default: 2m)",
		},
		&cli.IntFlag{
			Name:  "max-retries",
			Usage: "Attempts per archive request (default: 5)",
		},
		&cli.IntFlag{
			Name:  "max-rounds",
			Usage: "Discovery rounds after the listed captures (default: 2)",
		},
		&cli.StringSliceFlag{
			Name:  "exclude",
			Usage: "Extra denylist regular expression matched against URL paths (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "Keep files that already exist in the output directory",
		},
		&cli.BoolFlag{
			Name:  "skip-rewrite",
			Usage: "Leave archive references in place; run 'rewrite' later",
		},
		&cli.StringFlag{
			Name:  "cdx-cache-dir",
			Usage: "Directory caching capture listings",
		},
		&cli.DurationFlag{
			Name:  "cdx-cache-ttl",
			Usage: "How long a cached capture listing stays valid (0 disables the cache)",
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Show a progress spinner on stderr",
		},
	)
	flags = append(flags, ledgerFlags()...)
	return append(flags, CommonFlags()...)
}

// RewriteFlags are the flags of the rewrite command.
func RewriteFlags() []cli.Flag {
	flags := append(targetFlags(), ledgerFlags()...)
	return append(flags, CommonFlags()...)
}
