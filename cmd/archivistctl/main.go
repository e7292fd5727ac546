// Command archivistctl inspects, lists, and extracts the compression and
// archive formats this module implements: GZIP, BZIP2, XZ, LZ4, and
// Zstandard streams, and TAR, LHA/LZH, CPIO, DUMP, and ZIP archives,
// including a stream wrapped in one or more of the former.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
)

type subcmd func(context.Context, []string) error

func main() {
	var exit int
	defer func() {
		if exit != 0 {
			os.Exit(exit)
		}
	}()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		<-ch
		cancel()
	}()

	fs := flag.NewFlagSet("archivistctl", flag.ExitOnError)
	fs.Usage = func() {
		out := fs.Output()
		fmt.Fprintf(out, "Usage of %s:\n", os.Args[0])
		fs.PrintDefaults()
		fmt.Fprintf(out, "\nSubcommands\n\n")
		fmt.Fprintln(out, "detect <file>...")
		fmt.Fprintln(out, "\treport the compression/archive format chain detected in each file")
		fmt.Fprintln(out, "list <file>")
		fmt.Fprintln(out, "\tlist the entries of an archive, decompressing it first if needed")
		fmt.Fprintln(out, "extract <file> <destdir>")
		fmt.Fprintln(out, "\tdecompress/extract an archive's entries into destdir")
		fmt.Fprintln(out, "verify <file>...")
		fmt.Fprintln(out, "\tconcurrently check that every entry of each file is readable")
		fmt.Fprintln(out)
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	var cmd subcmd
	switch n := fs.Arg(0); n {
	case "detect":
		cmd = detectCmd
	case "list":
		cmd = listCmd
	case "extract":
		cmd = extractCmd
	case "verify":
		cmd = verifyCmd
	case "":
		fs.Usage()
		os.Exit(99)
	default:
		fs.Usage()
		fmt.Fprintf(os.Stderr, "\nunknown subcommand %q\n", n)
		os.Exit(99)
	}

	var cmdErr error
	cmdctx, cmddone := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cmddone()
		cmdErr = cmd(cmdctx, fs.Args()[1:])
	}()

	select {
	case <-ctx.Done():
		log.Print(ctx.Err())
		exit = 1
	case <-done:
		if cmdErr != nil {
			log.Print(cmdErr)
			exit = 2
		}
	}
}
