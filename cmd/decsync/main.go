// Command decsync is a non-interactive CLI exercising the library end to
// end: reading and writing entries, listing collections, and inspecting
// peer activity on a DecSync directory tree.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/decsync/go-decsync/internal/nativefile"
)

var (
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "Show version information")
	dir := flag.String("dir", ".", "Path to the DecSync root directory")
	syncType := flag.String("sync-type", "", "Sync type, e.g. contacts or resources/calendars")
	collection := flag.String("collection", "", "Collection name, empty for single-collection sync types")
	appID := flag.String("app", "", "This instance's appId")

	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	root := nativefile.NewOSRoot(*dir)
	ctx := context.Background()

	if err := run(ctx, command, args[1:], root, *syncType, *collection, *appID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("decsync\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println("Usage: decsync -dir <path> -sync-type <type> [-collection <name>] [-app <appId>] <command> [args...]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  check-info                     validate .decsync-info at -dir")
	fmt.Println("  list-collections               list collections under -sync-type")
	fmt.Println("  static-info                    print the merged [\"info\"] map for the collection")
	fmt.Println("  active-apps                    list peer apps and their last-active date")
	fmt.Println("  set <path> <key> <value>       write one entry (path as comma-separated segments, key/value as JSON literals)")
	fmt.Println("  listen                         execute all new entries once and print what was delivered")
	fmt.Println("  init                           replay the full own stored snapshot and print it")
}
