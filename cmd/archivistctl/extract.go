package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/quay/archivist/internal/detect"
)

// extractCmd decompresses/extracts an archive's entries into destdir,
// skipping any entry whose resolved path would escape destdir.
func extractCmd(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("archivistctl extract: exactly two arguments (file, destdir) are required")
	}
	name, destdir := args[0], args[1]

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
		return fmt.Errorf("archivistctl extract: %s: unrecognised format", name)
	}
	if err := os.MkdirAll(destdir, 0o755); err != nil {
		return err
	}

	return walkEntries(ctx, format, br, func(e walkEntry, r io.Reader) error {
		target, err := safeJoin(destdir, e.name)
		if err != nil {
			return fmt.Errorf("archivistctl extract: %s: %w", e.name, err)
		}
		if e.isDir {
			return os.MkdirAll(target, 0o755)
		}
		if !e.readable {
			fmt.Fprintf(os.Stderr, "archivistctl extract: skipping unreadable entry %s\n", e.name)
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return fmt.Errorf("archivistctl extract: writing %s: %w", e.name, err)
		}
		return nil
	})
}

// safeJoin resolves name beneath root, refusing to let a ".." segment or
// absolute path escape it.
func safeJoin(root, name string) (string, error) {
	clean := filepath.Clean("/" + name)
	target := filepath.Join(root, clean)
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("entry path %q escapes destination", name)
	}
	return target, nil
}
