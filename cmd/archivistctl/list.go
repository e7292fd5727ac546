package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/quay/archivist/internal/detect"
)

// listCmd lists the entries of an archive, decompressing it first if the
// file is wrapped in one or more recognised compression layers.
func listCmd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("archivistctl list: exactly one file is required")
	}
	name := args[0]

	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	br, chain, closer, err := decodeChain(ctx, f)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		return err
	}

	format := chain[len(chain)-1]
	if format == detect.Unknown {
		return fmt.Errorf("archivistctl list: %s: unrecognised format", name)
	}

	return walkEntries(ctx, format, br, func(e walkEntry, _ io.Reader) error {
		kind := "-"
		if e.isDir {
			kind = "d"
		}
		readable := "ok"
		if !e.readable {
			readable = "unreadable"
		}
		fmt.Printf("%s\t%10d\t%s\t%s\n", kind, e.size, readable, e.name)
		return nil
	})
}
