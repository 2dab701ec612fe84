//go:build unix

/*
Command mvkv_bench runs a simple load against mvkv and other embedded
engines and reports per-operation latency.

	mvkv_bench -n 100000 -engines mvkv,bolt,pebble -plot latency.png
*/
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Giulio2002/mvkv/internal/cmdutil"
)

// Options holds the configuration of one benchmark run.
type Options struct {
	N         int
	ValueSize int
	Batch     int
	Engines   []string
	Dir       string
	Plot      string
	Seed      uint64
}

func main() {
	opt := &Options{}
	var engines string
	flag.IntVar(&opt.N, "n", 100000, "Number of keys to write and read.")
	flag.IntVar(&opt.ValueSize, "vsize", 100, "Value size in bytes.")
	flag.IntVar(&opt.Batch, "batch", 1000, "Puts per write transaction.")
	flag.StringVar(&engines, "engines", "mvkv,bolt,pebble", "Comma separated engines to run.")
	flag.StringVar(&opt.Dir, "dir", "", "Directory for the databases (default a temporary directory).")
	flag.StringVar(&opt.Plot, "plot", "", "Write a latency chart to this PNG or SVG file.")
	flag.Uint64Var(&opt.Seed, "seed", 1, "Random seed for the read order.")
	flag.Parse()

	cmdutil.PrintVersion()
	opt.Engines = strings.Split(engines, ",")

	cmdutil.Main(func() error { return run(opt, os.Stdout) })
}

// engine is one store under test.
type engine interface {
	Name() string
	PutBatch(keys [][]byte, val []byte) error
	Get(key []byte) error
	Scan() (int, error)
	Close() error
}

type opener func(dir string) (engine, error)

var engines = map[string]opener{
	"mvkv":   openMvkv,
	"bolt":   openBolt,
	"pebble": openPebble,
}

// result holds the mean latency of each operation for one engine.
type result struct {
	engine string
	put    time.Duration
	get    time.Duration
	scan   time.Duration
	items  int
}

func run(opt *Options, w io.Writer) error {
	if opt.N <= 0 || opt.Batch <= 0 {
		return fmt.Errorf("-n and -batch must be positive")
	}
	dir := opt.Dir
	if dir == "" {
		tmp, err := os.MkdirTemp("", "mvkv-bench-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	keys := make([][]byte, opt.N)
	for i := range keys {
		keys[i] = binary.BigEndian.AppendUint64(nil, uint64(i))
	}
	val := make([]byte, opt.ValueSize)
	order := rand.New(rand.NewPCG(opt.Seed, opt.Seed)).Perm(opt.N)

	var results []result
	for _, name := range opt.Engines {
		open, ok := engines[name]
		if !ok {
			return fmt.Errorf("unknown engine %q", name)
		}
		path := fmt.Sprintf("%s/%s", dir, name)
		if err := os.MkdirAll(path, 0755); err != nil {
			return err
		}
		e, err := open(path)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		r, err := measure(e, keys, val, order, opt.Batch)
		cerr := e.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if cerr != nil {
			return fmt.Errorf("%s: close: %w", name, cerr)
		}
		results = append(results, r)
	}

	report(w, opt, results)
	if opt.Plot != "" {
		return plotResults(opt.Plot, results)
	}
	return nil
}

func measure(e engine, keys [][]byte, val []byte, order []int, batch int) (result, error) {
	r := result{engine: e.Name()}

	start := time.Now()
	for i := 0; i < len(keys); i += batch {
		if err := e.PutBatch(keys[i:min(i+batch, len(keys))], val); err != nil {
			return r, err
		}
	}
	r.put = time.Since(start) / time.Duration(len(keys))

	start = time.Now()
	for _, i := range order {
		if err := e.Get(keys[i]); err != nil {
			return r, err
		}
	}
	r.get = time.Since(start) / time.Duration(len(keys))

	start = time.Now()
	n, err := e.Scan()
	if err != nil {
		return r, err
	}
	r.items = n
	if n > 0 {
		r.scan = time.Since(start) / time.Duration(n)
	}
	if n != len(keys) {
		return r, fmt.Errorf("scan saw %d items, want %d", n, len(keys))
	}
	return r, nil
}

func report(w io.Writer, opt *Options, results []result) {
	fmt.Fprintf(w, "%s keys, %s values, %s puts per txn\n",
		humanize.Comma(int64(opt.N)), humanize.IBytes(uint64(opt.ValueSize)), humanize.Comma(int64(opt.Batch)))
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "engine\tput\tget\tscan\t")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%v\t%v\t%v\t\n", r.engine, r.put, r.get, r.scan)
	}
	if err := tw.Flush(); err != nil {
		log.Print(err)
	}
}
