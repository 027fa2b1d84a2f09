package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/decsync/go-decsync/internal/nativefile"

	decsync "github.com/decsync/go-decsync"
)

func run(ctx context.Context, command string, args []string, root nativefile.Node, syncType, collection, appID string) error {
	switch command {
	case "check-info":
		return runCheckInfo(root)
	case "list-collections":
		return runListCollections(root, syncType)
	case "static-info":
		return runStaticInfo(root, syncType, collection)
	case "active-apps":
		return runActiveApps(root, syncType, collection)
	case "set":
		return runSet(root, syncType, collection, appID, args)
	case "listen":
		return runListen(root, syncType, collection, appID)
	case "init":
		return runInit(root, syncType, collection, appID)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runCheckInfo(root nativefile.Node) error {
	if err := decsync.CheckDecsyncInfo(root); err != nil {
		return err
	}
	fmt.Println("OK")
	return nil
}

func runListCollections(root nativefile.Node, syncType string) error {
	if syncType == "" {
		return fmt.Errorf("-sync-type is required")
	}
	names, err := decsync.ListCollections(root, syncType)
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}
	if len(names) == 0 {
		fmt.Println("No collections found.")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runStaticInfo(root nativefile.Node, syncType, collection string) error {
	if syncType == "" {
		return fmt.Errorf("-sync-type is required")
	}
	info, err := decsync.GetStaticInfo(root, syncType, collection)
	if err != nil {
		return fmt.Errorf("failed to read static info: %w", err)
	}
	if len(info) == 0 {
		fmt.Println("No static info found.")
		return nil
	}
	for key, value := range info {
		fmt.Printf("%s: %s\n", key, value)
	}
	return nil
}

func runActiveApps(root nativefile.Node, syncType, collection string) error {
	if syncType == "" {
		return fmt.Errorf("-sync-type is required")
	}
	version, apps, err := decsync.GetActiveApps(root, syncType, collection)
	if err != nil {
		return fmt.Errorf("failed to read active apps: %w", err)
	}
	fmt.Printf("On-disk version: %d\n", version)
	if len(apps) == 0 {
		fmt.Println("No active apps found.")
		return nil
	}
	for _, app := range apps {
		if app.LastActive == "" {
			fmt.Printf("%s (last active unknown)\n", app.AppID)
			continue
		}
		fmt.Printf("%s (last active %s)\n", app.AppID, app.LastActive)
	}
	return nil
}

func parsePath(spec string) []string {
	if spec == "" {
		return nil
	}
	return strings.Split(spec, ",")
}

func requireInstanceFlags(syncType, appID string) error {
	if syncType == "" {
		return fmt.Errorf("-sync-type is required")
	}
	if appID == "" {
		return fmt.Errorf("-app is required")
	}
	return nil
}

func runSet(root nativefile.Node, syncType, collection, appID string, args []string) error {
	if err := requireInstanceFlags(syncType, appID); err != nil {
		return err
	}
	if len(args) != 3 {
		return fmt.Errorf("usage: set <path> <key-json> <value-json>")
	}
	path := parsePath(args[0])
	key := json.RawMessage(args[1])
	if !json.Valid(key) {
		return fmt.Errorf("key is not valid JSON: %s", args[1])
	}
	value := json.RawMessage(args[2])
	if !json.Valid(value) {
		return fmt.Errorf("value is not valid JSON: %s", args[2])
	}

	d, err := decsync.New(root, syncType, collection, appID)
	if err != nil {
		return fmt.Errorf("failed to open decsync instance: %w", err)
	}
	if err := d.SetEntry(path, key, value); err != nil {
		return fmt.Errorf("failed to set entry: %w", err)
	}
	fmt.Println("OK")
	return nil
}

func printEntry(path []string, entries []decsync.Entry, extra decsync.Extra) bool {
	for _, e := range entries {
		fmt.Printf("%v %s = %s (at %s)\n", path, e.Key, e.Value, e.Datetime)
	}
	return true
}

func runListen(root nativefile.Node, syncType, collection, appID string) error {
	if err := requireInstanceFlags(syncType, appID); err != nil {
		return err
	}
	d, err := decsync.New(root, syncType, collection, appID)
	if err != nil {
		return fmt.Errorf("failed to open decsync instance: %w", err)
	}
	d.AddListener(nil, printEntry)
	if err := d.ExecuteAllNewEntries(nil, false); err != nil {
		return fmt.Errorf("failed to execute new entries: %w", err)
	}
	return nil
}

func runInit(root nativefile.Node, syncType, collection, appID string) error {
	if err := requireInstanceFlags(syncType, appID); err != nil {
		return err
	}
	d, err := decsync.New(root, syncType, collection, appID)
	if err != nil {
		return fmt.Errorf("failed to open decsync instance: %w", err)
	}
	d.AddListener(nil, printEntry)
	if err := d.InitStoredEntries(); err != nil {
		return fmt.Errorf("failed to replay stored entries: %w", err)
	}
	return nil
}
