package main

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// detectCmd reports the compression/archive format chain detected in
// each file argument, e.g. "layer.tar.gz: gzip -> tar".
func detectCmd(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("archivistctl detect: at least one file is required")
	}
	var failed bool
	for _, name := range args {
		if err := detectOne(ctx, name); err != nil {
			fmt.Fprintf(os.Stderr, "archivistctl detect: %s: %v\n", name, err)
			failed = true
		}
	}
	if failed {
		return fmt.Errorf("archivistctl detect: one or more files failed")
	}
	return nil
}

func detectOne(ctx context.Context, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	_, chain, closer, err := decodeChain(ctx, f)
	if closer != nil {
		defer closer.Close()
	}
	if err != nil {
		return err
	}

	labels := make([]string, len(chain))
	for i, f := range chain {
		labels[i] = f.String()
	}
	fmt.Printf("%s: %s\n", name, strings.Join(labels, " -> "))
	return nil
}
