//go:build unix

/*
Command mvkv_stat displays the status of an mvkv environment.

	mvkv_stat -h
*/
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Giulio2002/mvkv"
	"github.com/Giulio2002/mvkv/internal/cmdutil"
	"github.com/Giulio2002/mvkv/scan"
)

func main() {
	opt := &Options{}
	flag.BoolVar(&opt.PrintInfo, "e", false, "Display information about the database environment")
	flag.BoolVar(&opt.PrintFree, "f", false, "Display freelist information")
	flag.BoolVar(&opt.PrintFreeSummary, "ff", false, "Display freelist information per GC record")
	flag.BoolVar(&opt.PrintFreeFull, "fff", false, "Display every free page")
	flag.BoolVar(&opt.PrintReaders, "r", false, strings.Join([]string{
		"Display information about the environment reader table.",
		"Shows the process ID, thread ID, and transaction ID for each active reader slot.",
	}, "  "))
	flag.BoolVar(&opt.PrintReadersCheck, "rr", false, strings.Join([]string{
		"Implies -r.",
		"Check for stale entries in the reader table and clear them.",
		"The reader table is printed again after the check is performed.",
	}, "  "))
	flag.BoolVar(&opt.PrintStatAll, "a", false, "Display the status of all databases in the environment")
	flag.StringVar(&opt.PrintStatSub, "s", "", "Display the status of a specific named database.")
	flag.Parse()

	cmdutil.PrintVersion()

	if opt.PrintStatAll && opt.PrintStatSub != "" {
		log.Fatal("only one of -a and -s may be provided")
	}
	if flag.NArg() > 1 {
		log.Fatalf("too many arguments provided")
	}
	if flag.NArg() == 0 {
		log.Fatalf("missing argument")
	}
	opt.Path = flag.Arg(0)

	cmdutil.Main(func() error { return doMain(opt) })
}

// Options holds the configuration of one mvkv_stat run.
type Options struct {
	Path string

	PrintInfo         bool
	PrintReaders      bool
	PrintReadersCheck bool
	PrintFree         bool
	PrintFreeSummary  bool
	PrintFreeFull     bool
	PrintStatAll      bool
	PrintStatSub      string
}

func doMain(opt *Options) error {
	env, err := cmdutil.OpenEnv(opt.Path, mvkv.ReadOnly)
	if err != nil {
		return err
	}
	defer env.Close()
	return run(env, os.Stdout, opt)
}

func run(env *mvkv.Env, w io.Writer, opt *Options) error {
	if opt.PrintInfo {
		if err := printInfo(env, w); err != nil {
			return err
		}
	}
	if opt.PrintReaders || opt.PrintReadersCheck {
		if err := printReaderTable(env, w, opt); err != nil {
			return err
		}
	}
	if opt.PrintFree || opt.PrintFreeSummary || opt.PrintFreeFull {
		if err := printFree(env, w, opt); err != nil {
			return err
		}
	}

	stat, err := env.Stat()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Status of Main DB")
	printStat(w, stat)

	switch {
	case opt.PrintStatAll:
		return printStatAll(env, w)
	case opt.PrintStatSub != "":
		err := env.View(func(txn *mvkv.Txn) error {
			return printStatDB(env, txn, w, opt.PrintStatSub)
		})
		if err != nil {
			return fmt.Errorf("%v (%s)", err, opt.PrintStatSub)
		}
	}
	return nil
}

func printInfo(env *mvkv.Env, w io.Writer) error {
	info, err := env.Info(nil)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Environment Info")
	fmt.Fprintln(w, "  Map size:", info.MapSize, "("+humanize.IBytes(uint64(info.MapSize))+")")
	fmt.Fprintln(w, "  File size:", info.Geo.Current, "("+humanize.IBytes(info.Geo.Current)+")")
	fmt.Fprintln(w, "  Page size:", info.PageSize)
	fmt.Fprintln(w, "  Max pages:", info.MapSize/int64(info.PageSize))
	fmt.Fprintln(w, "  Number of pages used:", info.LastPgNo+1)
	fmt.Fprintln(w, "  Last transaction ID:", info.LastTxnID)
	fmt.Fprintln(w, "  Oldest reader transaction ID:", info.LatterReaderTxnID)
	fmt.Fprintln(w, "  Meta transaction IDs:", info.MetaTxnIDs[0], info.MetaTxnIDs[1])
	fmt.Fprintln(w, "  Max readers:", info.MaxReaders)
	fmt.Fprintln(w, "  Number of readers used:", info.NumReaders)
	return nil
}

func printReaderTable(env *mvkv.Env, w io.Writer, opt *Options) error {
	fmt.Fprintln(w, "Reader Table Status")
	bw := bufio.NewWriter(w)
	if err := printReaders(env, bw); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if !opt.PrintReadersCheck {
		return nil
	}
	stale, err := env.ReaderCheck()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "  %d stale readers cleared.\n", stale)
	if err := printReaders(env, bw); err != nil {
		return err
	}
	return bw.Flush()
}

func printReaders(env *mvkv.Env, w io.Writer) error {
	n := 0
	fmt.Fprintf(w, "    %8s %16s %8s %s\n", "pid", "thread", "slot", "txnid")
	err := env.ReaderList(func(r mvkv.ReaderInfo) error {
		n++
		txn := fmt.Sprint(r.TxnID)
		if r.Parked {
			txn = "-"
		}
		_, err := fmt.Fprintf(w, "    %8d %16x %8d %s\n", r.PID, r.Thread, r.Slot, txn)
		return err
	})
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(w, "  (no active readers)")
	}
	return nil
}

func printFree(env *mvkv.Env, w io.Writer, opt *Options) error {
	return env.View(func(txn *mvkv.Txn) error {
		fmt.Fprintln(w, "Freelist Status")
		stat, err := txn.Stat(mvkv.FreeDBI)
		if err != nil {
			return err
		}
		printStat(w, stat)

		var total uint64
		err = txn.FreeList(func(id uint64, pages []uint32) error {
			total += uint64(len(pages))
			if !opt.PrintFreeSummary && !opt.PrintFreeFull {
				return nil
			}
			fmt.Fprintf(w, "    Transaction %d, %d pages, maxspan %d%s\n", id, len(pages), maxSpan(pages), badSequence(pages))
			if opt.PrintFreeFull {
				for i := 0; i < len(pages); {
					pg, span := pages[i], 1
					for i+span < len(pages) && pages[i+span] == pg+uint32(span) {
						span++
					}
					if span > 1 {
						fmt.Fprintf(w, "     %9d[%d]\n", pg, span)
					} else {
						fmt.Fprintf(w, "     %9d\n", pg)
					}
					i += span
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "  Free pages:", total, "("+humanize.IBytes(total*uint64(stat.PageSize))+")")
		return nil
	})
}

// maxSpan returns the longest run of consecutive page numbers.
func maxSpan(pages []uint32) int {
	best, cur := 0, 0
	for i := range pages {
		if i > 0 && pages[i] == pages[i-1]+1 {
			cur++
		} else {
			cur = 1
		}
		best = max(best, cur)
	}
	return best
}

func badSequence(pages []uint32) string {
	for i := 1; i < len(pages); i++ {
		if pages[i] <= pages[i-1] {
			return " [bad sequence]"
		}
	}
	return ""
}

func printStatDB(env *mvkv.Env, txn *mvkv.Txn, w io.Writer, db string) error {
	dbi, err := txn.OpenDBISimple(db, 0)
	if err != nil {
		return err
	}
	stat, err := txn.Stat(dbi)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Status of", db)
	printStat(w, stat)
	return nil
}

func printStat(w io.Writer, stat *mvkv.Stat) {
	fmt.Fprintln(w, "  Tree depth:", stat.Depth)
	fmt.Fprintln(w, "  Branch pages:", stat.BranchPages)
	fmt.Fprintln(w, "  Leaf pages:", stat.LeafPages)
	fmt.Fprintln(w, "  Overflow pages:", stat.OverflowPages)
	fmt.Fprintln(w, "  Entries:", stat.Entries, "("+humanize.Comma(int64(stat.Entries))+")")
}

func printStatAll(env *mvkv.Env, w io.Writer) error {
	return env.View(func(txn *mvkv.Txn) error {
		s := scan.New(txn, mvkv.MainDBI)
		defer s.Close()
		for s.Scan() {
			name := string(s.Key())
			err := printStatDB(env, txn, w, name)
			switch {
			case mvkv.Code(err) == mvkv.ErrIncompatible:
				// a plain key, not a named database
				continue
			case mvkv.Code(err) == mvkv.ErrDBsFull:
				return errors.Join(err, fmt.Errorf("raise -maxdbs above %d", env.MaxDBs()))
			case err != nil:
				return fmt.Errorf("%v (%s)", err, name)
			}
		}
		return s.Err()
	})
}
