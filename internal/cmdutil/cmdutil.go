//go:build unix

// Package cmdutil holds flags shared by the mvkv commands.
package cmdutil

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Giulio2002/mvkv"
)

var (
	flagPrintVersion bool
	flagNoSubdir     bool
	flagMaxDBs       uint
)

func init() {
	flag.BoolVar(&flagPrintVersion, "V", false, "Write the library version number to the standard output, and exit.")
	flag.BoolVar(&flagNoSubdir, "n", false, "Open environments that do not use subdirectories.")
	flag.UintVar(&flagMaxDBs, "maxdbs", 128, "Maximum number of named databases to open.")
}

func printVersion(w io.Writer) {
	fmt.Fprintln(w, mvkv.Version())
}

// PrintVersion prints the version and exits when -V was given.
func PrintVersion() {
	if flagPrintVersion {
		printVersion(os.Stdout)
		os.Exit(0)
	}
}

// OpenFlag returns the environment flags selected on the command line.
func OpenFlag() uint {
	var flags uint
	if flagNoSubdir {
		flags |= mvkv.NoSubdir
	}
	return flags
}

// OpenEnv opens path with the command-line flags plus extra.
func OpenEnv(path string, extra uint) (*mvkv.Env, error) {
	env, err := mvkv.NewEnv(mvkv.Label(path))
	if err != nil {
		return nil, err
	}
	if err := env.SetMaxDBs(uint32(flagMaxDBs)); err != nil {
		return nil, err
	}
	if err := env.Open(path, OpenFlag()|extra, 0644); err != nil {
		env.Close()
		return nil, err
	}
	return env, nil
}

// Main runs fn and exits with status 1 when it fails.
func Main(fn func() error) {
	log.SetFlags(0)
	if err := fn(); err != nil {
		log.Print(err)
		os.Exit(1)
	}
}
