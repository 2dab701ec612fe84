//go:build unix

/*
Command mvkv_chk verifies the integrity of an mvkv environment.

	mvkv_chk [-v] [-n] path

It exits with status 1 when a problem is found.
*/
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/Giulio2002/mvkv"
	"github.com/Giulio2002/mvkv/internal/cmdutil"
)

var errCheckFailed = errors.New("integrity check failed")

func main() {
	verbose := flag.Bool("v", false, "Log the checker's progress to standard error.")
	flag.Parse()

	cmdutil.PrintVersion()

	if flag.NArg() != 1 {
		log.Fatalf("exactly one argument must be specified")
	}
	path := flag.Arg(0)

	cmdutil.Main(func() error {
		env, err := cmdutil.OpenEnv(path, mvkv.ReadOnly)
		if err != nil {
			return err
		}
		defer env.Close()
		if *verbose {
			env.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
		}
		return check(env, os.Stdout)
	})
}

func check(env *mvkv.Env, w io.Writer) error {
	rep, err := env.Check()
	if err != nil {
		return err
	}
	ps := uint64(env.PageSize())
	fmt.Fprintf(w, "Transaction %d, %s pages (%s)\n", rep.TxnID,
		humanize.Comma(int64(rep.NextPgno)), humanize.IBytes(rep.NextPgno*ps))
	fmt.Fprintf(w, "  Tree pages: %s\n", humanize.Comma(int64(rep.TreePages)))
	fmt.Fprintf(w, "  Free pages: %s\n", humanize.Comma(int64(rep.FreePages)))
	fmt.Fprintf(w, "  Leaked pages: %s\n", humanize.Comma(int64(rep.LeakedPages)))
	fmt.Fprintf(w, "  Named databases: %d\n", rep.Databases)
	fmt.Fprintf(w, "  Items: %s\n", humanize.Comma(int64(rep.Items)))
	for _, p := range rep.Problems {
		fmt.Fprintln(w, "  problem:", p)
	}
	if !rep.OK() {
		return errCheckFailed
	}
	fmt.Fprintln(w, "No problems found.")
	return nil
}
