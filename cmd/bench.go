// cmd/bench.go

package main

import (
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"TickFS/pkg/driver"
	"TickFS/pkg/mdfile"
	"TickFS/pkg/pagebuf"
	"TickFS/pkg/utils"

	"github.com/urfave/cli/v2"
)

func benchFlags() *cli.Command {
	return &cli.Command{
		Name:   "bench",
		Usage:  "run a page buffer micro-benchmark on a scratch file",
		Action: bench,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "page-size",
				Value: 4096,
				Usage: "file space page size in bytes",
			},
			&cli.IntFlag{
				Name:  "pages",
				Value: 256,
				Usage: "page buffer capacity in pages",
			},
			&cli.IntFlag{
				Name:  "span",
				Value: 1024,
				Usage: "working set size in pages",
			},
			&cli.IntFlag{
				Name:  "ops",
				Value: 100000,
				Usage: "number of read/write operations",
			},
			&cli.IntFlag{
				Name:  "raw-pct",
				Value: 50,
				Usage: "share of operations on raw data (0..100)",
			},
			&cli.IntFlag{
				Name:  "tick-every",
				Value: 0,
				Usage: "run as SWMR writer and publish a tick every N operations (0 = off)",
			},
			&cli.Int64Flag{
				Name:  "seed",
				Value: 1,
				Usage: "random seed",
			},
		},
	}
}

func bench(ctx *cli.Context) error {
	pageSize := uint64(fixPageSize(ctx.Int("page-size")))
	pages := ctx.Int("pages")
	span := uint64(ctx.Int("span"))
	ops := ctx.Int("ops")
	rawPct := ctx.Int("raw-pct")
	tickEvery := ctx.Int("tick-every")

	dir, err := os.MkdirTemp("", "tickfs-bench-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	d, err := driver.Open(filepath.Join(dir, "data"), false)
	if err != nil {
		return err
	}
	defer d.Close()
	if err = d.SetEOA(driver.RawData, span*pageSize); err != nil {
		return err
	}
	if err = d.SetEOA(driver.Metadata, span*pageSize); err != nil {
		return err
	}

	pb, err := pagebuf.New(d, pagebuf.Config{
		MaxSize:    uint64(pages) * pageSize,
		PageSize:   pageSize,
		MinMetaPct: 25,
		MinRawPct:  25,
		SWMRWriter: tickEvery > 0,
	}, nil)
	if err != nil {
		return err
	}

	var w *mdfile.Writer
	tick := uint64(0)
	if tickEvery > 0 {
		if w, err = mdfile.CreateWriter(filepath.Join(dir, "bench.md"), uint32(pageSize), 2); err != nil {
			return err
		}
		defer w.Close()
		tick = 1
		if err = pb.SetTick(tick); err != nil {
			return err
		}
	}

	endTick := func() error {
		if _, err := pb.UpdateIndex(w); err != nil {
			return err
		}
		if err := w.Publish(tick); err != nil {
			return err
		}
		if err := pb.ReleaseTickList(); err != nil {
			return err
		}
		if err := pb.ReleaseDelayedWrites(); err != nil {
			return err
		}
		tick++
		return pb.SetTick(tick)
	}

	progress, bar := utils.NewDynProgressBar("benchmarking: ", ctx.Bool("quiet"))
	bar.SetTotal(int64(ops), false)

	rnd := rand.New(rand.NewSource(ctx.Int64("seed")))
	buf := make([]byte, 256)
	start := time.Now()
	for i := 0; i < ops; i++ {
		typ := driver.Metadata
		if rnd.Intn(100) < rawPct {
			typ = driver.RawData
		}
		// sub-page accesses that never cross a page boundary
		page := uint64(rnd.Int63n(int64(span)))
		length := 1 + rnd.Intn(len(buf))
		offset := uint64(rnd.Intn(int(pageSize) - length))
		addr := page*pageSize + offset

		if rnd.Intn(2) == 0 {
			err = pb.Read(typ, addr, buf[:length])
		} else {
			rnd.Read(buf[:length])
			err = pb.Write(typ, addr, buf[:length])
		}
		if err != nil {
			return err
		}

		if tickEvery > 0 && (i+1)%tickEvery == 0 {
			if err = endTick(); err != nil {
				return err
			}
		}
		bar.Increment()
	}
	elapsed := time.Since(start)
	bar.SetTotal(0, true)
	progress.Wait()

	if err = pb.Flush(); err != nil {
		return err
	}

	s := pb.Stats()
	logger.Infof("%d ops in %s (%.0f ops/s), hit rate %.2f%%",
		ops, elapsed, float64(ops)/elapsed.Seconds(), s.HitRate()*100)
	logger.Infof("loads md/raw %d/%d, flushes md/raw %d/%d, evictions md/raw %d/%d",
		s.Meta.Loads, s.Raw.Loads, s.Meta.Flushes, s.Raw.Flushes,
		s.Meta.Evictions, s.Raw.Evictions)
	if tickEvery > 0 {
		logger.Infof("published %d ticks, %d index entries", tick-1, w.NumEntries())
	}

	ru := utils.GetRusage()
	logger.Debugf("cpu: %.2fs user, %.2fs sys", ru.GetUtime(), ru.GetStime())
	return pb.Close()
}
