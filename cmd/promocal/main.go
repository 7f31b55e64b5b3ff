package main

import (
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/urfave/cli"

	appLog "promocal/internal/log"
)

const version = "0.1.0"

var (
	configPath string

	globalFlags = []cli.Flag{
		cli.StringFlag{
			Name:        "config, c",
			Usage:       "path to the YAML config file",
			Value:       "./promocal.yaml",
			EnvVar:      "PROMOCAL_CONFIG",
			Destination: &configPath,
		},
	}
)

func main() {
	app := cli.App{
		Name:      "promocal",
		HelpName:  "promocal",
		Usage:     "expand store promotions into dated occurrences",
		UsageText: "promocal [--config FILE] <command> [arguments...]",
		Version:   version,
		Flags:     globalFlags,
		Commands: []cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the feed sync scheduler",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "create the database schema",
				Action: migrate,
			},
			{
				Name:      "import-ics",
				Usage:     "import a store's promotions from an ICS file or URL",
				UsageText: "promocal import-ics --store ID (--file PATH | --url URL)",
				Flags:     importFlags,
				Action:    importICS,
			},
			{
				Name:      "expand",
				Usage:     "print the occurrences of one promotion as JSON",
				UsageText: "promocal expand --promotion ID [--from YYYY-MM-DD --to YYYY-MM-DD]",
				Flags:     expandFlags,
				Action:    expand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		appLog.Error("promocal failed", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
