package main

import (
	"fmt"
	"os"
	"time"

	"github.com/bsv-blockchain/chainstate/errors"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"
)

func importBlocks(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.NewInvalidArgumentError("import needs at least one file")
	}

	ctx, cancel := signalContext()
	defer cancel()

	d, err := startDaemon(ctx, c)
	if err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	defer d.close(shutdownCtx)

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	total := 0

	for _, path := range c.Args().Slice() {
		start := time.Now()

		if interactive {
			fmt.Printf("importing %s ...\r", path)
		}

		f, err := os.Open(path)
		if err != nil {
			return errors.NewProcessingError("failed to open %s", path, err)
		}

		n, err := d.cs.ImportBlocks(ctx, f)
		_ = f.Close()

		total += n

		if err != nil {
			return err
		}

		d.logger.Infof("imported %d blocks from %s in %s, tip at height %d", n, path, time.Since(start), d.cs.Height())

		if interactive {
			fmt.Printf("imported %d blocks from %s\n", n, path)
		}
	}

	tip := d.cs.Tip()
	fmt.Printf("%d blocks imported, tip %s at height %d\n", total, tip.Hash, tip.Height)

	return nil
}

func verify(c *cli.Context) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := startDaemon(ctx, c)
	if err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	defer d.close(shutdownCtx)

	if err = d.cs.VerifyChain(ctx, c.Int("depth"), c.Int("level")); err != nil {
		return err
	}

	fmt.Println("chain verified")

	return nil
}

func invalidate(c *cli.Context) error {
	return withBlockHash(c, func(d *daemon, hash chainhash.Hash) error {
		return d.cs.InvalidateBlock(c.Context, hash)
	})
}

func reconsider(c *cli.Context) error {
	return withBlockHash(c, func(d *daemon, hash chainhash.Hash) error {
		return d.cs.ReconsiderBlock(c.Context, hash)
	})
}

func withBlockHash(c *cli.Context, fn func(d *daemon, hash chainhash.Hash) error) error {
	if c.NArg() != 1 {
		return errors.NewInvalidArgumentError("expected one block hash")
	}

	hash, err := chainhash.NewHashFromStr(c.Args().First())
	if err != nil {
		return errors.NewInvalidArgumentError("invalid block hash %q", c.Args().First(), err)
	}

	d, err := startDaemon(c.Context, c)
	if err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	defer d.close(shutdownCtx)

	if err = fn(d, *hash); err != nil {
		return err
	}

	tip := d.cs.Tip()
	fmt.Printf("tip %s at height %d\n", tip.Hash, tip.Height)

	return nil
}

func tip(c *cli.Context) error {
	d, err := startDaemon(c.Context, c)
	if err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := shutdownContext()
	defer shutdownCancel()

	defer d.close(shutdownCtx)

	node := d.cs.Tip()
	fmt.Printf("%s %d %s\n", node.Hash, node.Height, node.ChainWork.Text(16))

	return nil
}
