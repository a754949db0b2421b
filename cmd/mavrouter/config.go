package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/K4HVH/mav-lite/internal/config"
)

// parseArgs parses the CLI surface: a single positional TOML config path
// plus a --version flag, mirroring the teacher's parseFlags/showVersion
// split. Every other knob lives in the config file or MAVROUTER_* env vars
// (internal/config.Load), not on the command line.
func parseArgs() (cfgPath string, showVersion bool) {
	fs := flag.NewFlagSet("mavrouter", flag.ExitOnError)
	v := fs.Bool("version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [--version] <config.toml>\n", os.Args[0])
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])
	if *v {
		return "", true
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	return fs.Arg(0), false
}

func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
