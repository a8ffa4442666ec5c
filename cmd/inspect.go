// cmd/inspect.go

package main

import (
	"fmt"

	"TickFS/pkg/mdfile"

	"github.com/urfave/cli/v2"
)

func inspectFlags() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "show the header and index of a shared metadata file",
		ArgsUsage: "MD-FILE",
		Action:    inspect,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "entries",
				Aliases: []string{"e"},
				Usage:   "list every index entry",
			},
		},
	}
}

func inspect(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		logger.Infof("MD-FILE is needed")
		return nil
	}
	for i := 0; i < ctx.Args().Len(); i++ {
		path := ctx.Args().Get(i)
		hdr, idx, err := mdfile.ReadFile(path)
		if err != nil {
			logger.Errorf("inspect %s: %s", path, err)
			continue
		}
		fmt.Printf("%s:\n", path)
		fmt.Printf("  page size:    %d\n", hdr.PageSize)
		fmt.Printf("  tick:         %d\n", hdr.TickNum)
		fmt.Printf("  index offset: %d\n", hdr.IndexOffset)
		fmt.Printf("  index length: %d\n", hdr.IndexLength)
		fmt.Printf("  entries:      %d\n", len(idx.Entries))
		if ctx.Bool("entries") {
			for _, e := range idx.Entries {
				fmt.Printf("    page %8d -> md page %8d, %8d bytes, checksum %08x\n",
					e.PageOffset, e.MDFilePageOffset, e.Length, e.Checksum)
			}
		}
	}
	return nil
}
