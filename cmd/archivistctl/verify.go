package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/quay/archivist/archive"
	"github.com/quay/archivist/internal/detect"
)

// verifyCmd concurrently checks that every entry of each file argument
// is readable, fanning the per-file work out with archive.ProbeBatch the
// way the teacher's layer fetcher fans out per-layer fetches.
func verifyCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("archivistctl verify: at least one file is required")
	}

	results := archive.ProbeBatch(ctx, len(args), func(ctx context.Context, i int) error {
		return verifyOne(ctx, args[i])
	})

	var failed bool
	for _, r := range results {
		name := args[r.Index]
		if r.Err != nil {
			fmt.Printf("%s: FAIL: %v\n", name, r.Err)
			failed = true
			continue
		}
		fmt.Printf("%s: OK\n", name)
	}
	if failed {
		return fmt.Errorf("archivistctl verify: one or more files failed")
	}
	return nil
}

func verifyOne(ctx context.Context, name string) error {
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
		return fmt.Errorf("unrecognised format")
	}

	return walkEntries(ctx, format, br, func(e walkEntry, r io.Reader) error {
		if e.isDir {
			return nil
		}
		if !e.readable {
			return fmt.Errorf("entry %q: unreadable (unsupported method)", e.name)
		}
		if _, err := io.Copy(io.Discard, r); err != nil {
			return fmt.Errorf("entry %q: %w", e.name, err)
		}
		return nil
	})
}
