// cmd/verify.go

package main

import (
	"os"

	"TickFS/pkg/mdfile"
	"TickFS/pkg/utils"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func verifyFlags() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "verify the checksums of all page images in a metadata file",
		ArgsUsage: "MD-FILE",
		Action:    verify,
	}
}

func verify(ctx *cli.Context) error {
	if ctx.Args().Len() < 1 {
		logger.Infof("MD-FILE is needed")
		return nil
	}
	path := ctx.Args().Get(0)

	hdr, idx, err := mdfile.ReadFile(path)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	progress, bar := utils.NewDynProgressBar("verifying pages: ", ctx.Bool("quiet"))
	bar.SetTotal(int64(len(idx.Entries)), false)

	var bad int
	for _, e := range idx.Entries {
		buf := make([]byte, e.Length)
		if _, err = f.ReadAt(buf, int64(e.MDFilePageOffset)*int64(hdr.PageSize)); err != nil {
			return errors.Wrapf(err, "read image of page %d", e.PageOffset)
		}
		if mdfile.Checksum(buf) != e.Checksum {
			logger.Errorf("page %d: checksum mismatch", e.PageOffset)
			bad++
		}
		bar.Increment()
	}
	bar.SetTotal(0, true)
	progress.Wait()

	ru := utils.GetRusage()
	logger.Debugf("cpu: %.2fs user, %.2fs sys", ru.GetUtime(), ru.GetStime())

	if bad > 0 {
		return errors.Errorf("%d of %d pages failed verification", bad, len(idx.Entries))
	}
	logger.Infof("%d pages verified at tick %d", len(idx.Entries), hdr.TickNum)
	return nil
}
