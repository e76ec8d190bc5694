package main

import (
	"flag"
	"os"

	"github.com/hearthgrid/hearthgrid/internal/platform/config"
	"github.com/hearthgrid/hearthgrid/internal/tools/sessionid"
)

func main() {
	cfg, err := sessionid.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := sessionid.Run(cfg, os.Stdout); err != nil {
		config.Exitf("mint identifiers: %v", err)
	}
}
