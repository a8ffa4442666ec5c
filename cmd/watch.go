// cmd/watch.go

package main

import (
	"time"

	"TickFS/pkg/mdfile"
	"TickFS/pkg/utils"

	"github.com/urfave/cli/v2"
)

func watchFlags() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "poll a metadata file and report published ticks",
		ArgsUsage: "MD-FILE",
		Action:    watch,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "interval",
				Value: time.Second,
				Usage: "polling interval",
			},
			&cli.IntFlag{
				Name:  "count",
				Value: 0,
				Usage: "stop after this many tick advances (0 = forever)",
			},
		},
	}
}

func watch(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		logger.Infof("MD-FILE is needed")
		return nil
	}
	path := ctx.Args().Get(0)
	interval := ctx.Duration("interval")
	count := ctx.Int("count")

	var lastTick uint64
	var seen bool
	var advances int
	for {
		hdr, idx, err := mdfile.ReadFile(path)
		if err != nil {
			// the writer may be mid-publish, try again next round
			logger.Debugf("watch %s: %s", path, err)
		} else if !seen || hdr.TickNum != lastTick {
			if seen && hdr.TickNum < lastTick {
				logger.Errorf("tick moved backwards (%d -> %d)", lastTick, hdr.TickNum)
			}
			logger.Infof("tick %d: %d index entries (watching for %s)", hdr.TickNum, len(idx.Entries), utils.Clock())
			if seen {
				advances++
				if count > 0 && advances >= count {
					return nil
				}
			}
			lastTick = hdr.TickNum
			seen = true
		}
		time.Sleep(interval)
	}
}
