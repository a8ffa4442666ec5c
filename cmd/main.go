// cmd/main.go

package main

import (
	"os"

	"TickFS/pkg/utils"
	"TickFS/pkg/version"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var logger = utils.GetLogger("tickfs")

func main() {
	cli.VersionFlag = &cli.BoolFlag{
		Name: "version", Aliases: []string{"V"},
		Usage: "print only the version",
	}
	app := &cli.App{
		Name:      "tickfs",
		Usage:     "page buffer and shared metadata file tooling",
		Version:   version.Version(),
		Copyright: "AGPL v3",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"debug", "v"},
				Usage:   "enable debug log",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only warning and errors",
			},
		},
		Before: func(ctx *cli.Context) error {
			if ctx.Bool("verbose") {
				utils.SetLogLevel(logrus.DebugLevel)
			} else if ctx.Bool("quiet") {
				utils.SetLogLevel(logrus.WarnLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			formatFlags(),
			inspectFlags(),
			verifyFlags(),
			watchFlags(),
			benchFlags(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Fatalf("%s", err)
	}
}
