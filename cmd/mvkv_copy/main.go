//go:build unix

/*
Command mvkv_copy copies an mvkv environment, optionally compacting it.

	mvkv_copy [-c] [-n] srcpath [dstpath]

Without dstpath the copy is written to standard output.
*/
package main

import (
	"flag"
	"log"
	"os"

	"github.com/Giulio2002/mvkv"
	"github.com/Giulio2002/mvkv/internal/cmdutil"
)

func main() {
	opt := &Options{}
	flag.BoolVar(&opt.Compact, "c", false, "Compact while copying.")
	flag.Parse()

	cmdutil.PrintVersion()

	switch flag.NArg() {
	case 1:
	case 2:
		opt.Dst = flag.Arg(1)
	default:
		log.Fatalf("usage: mvkv_copy [-c] [-n] srcpath [dstpath]")
	}

	cmdutil.Main(func() error { return copyEnv(flag.Arg(0), opt) })
}

// Options holds the configuration of one mvkv_copy run.
type Options struct {
	Compact bool
	Dst     string
}

func copyEnv(srcpath string, opt *Options) error {
	env, err := cmdutil.OpenEnv(srcpath, mvkv.ReadOnly)
	if err != nil {
		return err
	}
	defer env.Close()

	var flags uint
	if opt.Compact {
		flags |= mvkv.CopyCompact
	}
	if opt.Dst == "" {
		return env.CopyFD(os.Stdout.Fd(), flags)
	}
	return env.Copy(opt.Dst, flags)
}
