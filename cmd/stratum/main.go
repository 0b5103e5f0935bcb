// Package main implements the stratum administration binary: listing
// tables, inspecting row counts, and moving database snapshots to and
// from object storage.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/stratumdb/stratum"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cfg, err := stratum.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "tables":
		err = runTables(ctx, cfg, args)
	case "export":
		err = runExport(ctx, cfg, args)
	case "import":
		err = runImport(ctx, cfg, args)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", cmd, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: stratum [-config file] <command> [args]

Commands:
  tables <db>               list tables with row counts
  export <db> [prefix]      upload a snapshot of <db> to object storage
  import <db> [prefix]      restore <db> from object storage
`)
}

func runTables(ctx context.Context, cfg *stratum.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: tables <db>")
	}
	db, err := stratum.OpenDatabase(cfg, args[0], nil)
	if err != nil {
		return err
	}
	defer db.Close()

	names, err := db.Tables(ctx)
	if err != nil {
		return err
	}
	out := make(map[string]int64, len(names))
	for _, name := range names {
		info, err := db.PageInfo(ctx, name)
		if err != nil {
			return err
		}
		out[name] = info.Total
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func openStore(ctx context.Context, cfg *stratum.Config) (stratum.ObjectStore, error) {
	if cfg.Snapshot.Bucket == "" {
		return nil, fmt.Errorf("snapshot.bucket is not configured")
	}
	return stratum.NewS3Store(ctx, cfg.Snapshot.Bucket, stratum.S3Config{
		Region:       cfg.Snapshot.Region,
		Endpoint:     cfg.Snapshot.Endpoint,
		UsePathStyle: cfg.Snapshot.Endpoint != "",
	})
}

func snapshotPrefix(cfg *stratum.Config, db string, args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	if cfg.Snapshot.Prefix != "" {
		return cfg.Snapshot.Prefix + "/" + db
	}
	return db
}

func runExport(ctx context.Context, cfg *stratum.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: export <db> [prefix]")
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	dbDir := filepath.Join(cfg.DataDir, args[0])
	n, err := stratum.Export(ctx, store, dbDir, snapshotPrefix(cfg, args[0], args))
	if err != nil {
		return err
	}
	log.Printf("Exported %d objects from %s", n, dbDir)
	return nil
}

func runImport(ctx context.Context, cfg *stratum.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: import <db> [prefix]")
	}
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	dbDir := filepath.Join(cfg.DataDir, args[0])
	n, err := stratum.Import(ctx, store, snapshotPrefix(cfg, args[0], args), dbDir)
	if err != nil {
		return err
	}
	log.Printf("Imported %d objects into %s", n, dbDir)
	return nil
}
