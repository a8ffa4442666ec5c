// cmd/format.go

package main

import (
	"TickFS/pkg/mdfile"

	"github.com/urfave/cli/v2"
)

func fixPageSize(s int) int {
	const nim, xam = 512, 64 << 10
	var bits uint
	for s > 1 {
		bits++
		s >>= 1
	}
	s = s << bits
	if s < nim {
		s = nim
	} else if s > xam {
		s = xam
	}
	return s
}

func formatFlags() *cli.Command {
	return &cli.Command{
		Name:      "format",
		Usage:     "create an empty shared metadata file for a writer session",
		ArgsUsage: "MD-FILE",
		Action:    format,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page-size",
				Value: 4096,
				Usage: "file space page size in bytes (rounded to a power of two)",
			},
			&cli.IntFlag{
				Name:  "md-pages-reserved",
				Value: 2,
				Usage: "pages reserved for header and index at the head of the file",
			},
		},
	}
}

func format(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		logger.Infof("MD-FILE is needed")
		return nil
	}
	path := ctx.Args().Get(0)
	pageSize := fixPageSize(ctx.Int("page-size"))
	reserved := ctx.Int("md-pages-reserved")
	if reserved < 1 {
		reserved = 1
	}

	w, err := mdfile.CreateWriter(path, uint32(pageSize), uint32(reserved))
	if err != nil {
		return err
	}
	logger.Infof("formatted %s: page size %d, %d reserved pages, session %s",
		path, pageSize, reserved, w.Session())
	return w.Close()
}
