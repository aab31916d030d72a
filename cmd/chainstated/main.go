// Package main is the chainstated command: it runs the chain state over the stores configured in
// settings.conf, imports framed block files into it and verifies the stored chain.
//
// Usage:
//
//	chainstated [--network regtest] run
//	chainstated import blocks.dat [more.dat ...]
//	chainstated verify --depth 288 --level 4
//	chainstated invalidate <block hash>
//	chainstated reconsider <block hash>
//	chainstated tip
package main

import (
	"fmt"
	"os"

	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "chainstated"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	app := &cli.App{
		Name:    progname,
		Usage:   "validate and store a proof-of-stake chain with contract execution",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "network",
				Usage: "network to use instead of the one in settings.conf (mainnet, testnet, regtest)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the chain state until interrupted",
				Action: run,
			},
			{
				Name:      "import",
				Usage:     "import framed blocks from files",
				ArgsUsage: "<file> [file ...]",
				Action:    importBlocks,
			},
			{
				Name:  "verify",
				Usage: "check the last blocks of the active chain against the stores",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "depth",
						Usage: "number of blocks to check, 0 for the whole chain",
						Value: 6,
					},
					&cli.IntFlag{
						Name:  "level",
						Usage: "0 read, 1 check, 2 undo, 3 disconnect, 4 reconnect",
						Value: 3,
					},
				},
				Action: verify,
			},
			{
				Name:      "invalidate",
				Usage:     "mark a block and its descendants invalid",
				ArgsUsage: "<block hash>",
				Action:    invalidate,
			},
			{
				Name:      "reconsider",
				Usage:     "clear the invalid mark of a block and its descendants",
				ArgsUsage: "<block hash>",
				Action:    reconsider,
			},
			{
				Name:   "tip",
				Usage:  "print the tip of the active chain",
				Action: tip,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}
