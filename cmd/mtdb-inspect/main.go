// Command mtdb-inspect dumps or migrates a bbolt-backed key/value bucket
// into a microtetherdb file. It is a one-shot, flag-based tool (no
// subcommands) in the same shape as warren's database migration tool:
// open, optionally write, report a summary. It makes no backup.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	bolt "go.etcd.io/bbolt"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdb"
)

var (
	sourceDB = flag.String("source", "", "path to a bbolt database to inspect or migrate from")
	bucket   = flag.String("bucket", "", "bbolt bucket name holding the records")
	destDB   = flag.String("dest", "", "microtetherdb file to migrate into (dump-only if omitted)")
	dryRun   = flag.Bool("dry-run", false, "report what would be migrated without writing --dest")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags)

	if *sourceDB == "" || *bucket == "" {
		fmt.Fprintln(os.Stderr, "usage: mtdb-inspect -source <bbolt.db> -bucket <name> [-dest <out.mtdb>] [-dry-run]")
		os.Exit(2)
	}

	if err := run(); err != nil {
		log.Fatalf("mtdb-inspect: %v", err)
	}
}

func run() error {
	src, err := bolt.Open(*sourceDB, 0o600, nil)
	if err != nil {
		return fmt.Errorf("open source %s: %w", *sourceDB, err)
	}
	defer src.Close()

	var store *mtdb.Store
	if *destDB != "" && !*dryRun {
		store, err = mtdb.Open(mtdb.WithFilename(*destDB))
		if err != nil {
			return fmt.Errorf("open dest %s: %w", *destDB, err)
		}
		defer store.Close()
	}

	var scanned, migrated, skipped int
	err = src.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(*bucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", *bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			scanned++
			var doc codec.Document
			if jsonErr := json.Unmarshal(v, &doc); jsonErr != nil {
				log.Printf("skipping %s: not a JSON document: %v", k, jsonErr)
				skipped++
				return nil
			}
			if store == nil {
				log.Printf("%s: %s", k, v)
				return nil
			}
			if _, putErr := store.PutKey(string(k), doc, 0, nil); putErr != nil {
				log.Printf("skipping %s: %v", k, putErr)
				skipped++
				return nil
			}
			migrated++
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Printf("scanned %d records, migrated %d, skipped %d", scanned, migrated, skipped)
	return nil
}
