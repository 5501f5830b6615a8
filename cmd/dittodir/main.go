// Package main provides the DittoDir command line tool.
//
// Usage:
//
//	dittodir [flags] <command> [args]
//
// Commands:
//
//	ls      - List files
//	cat     - Print a file
//	put     - Write a file from disk or stdin
//	rm      - Delete files
//	stat    - Show size and modification time
//	touch   - Update modification times
//	du      - Recount and print the total size
//	import  - Copy files from a folder or S3 into the collection
//	export  - Copy every file of the collection into a folder
//	gc      - Run BadgerDB value log garbage collection
//	destroy - Delete every file and close the collection
//	init    - Write a default configuration file
//
// Configuration:
//
//	The CLI reads $XDG_CONFIG_HOME/dittodir/config.yaml unless --config is given.
//	Environment variables (DITTODIR_*) override file values.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dittodir/cmd/dittodir/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
