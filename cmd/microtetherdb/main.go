package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendrl-inc-labs/microtetherdb/pkg/codec"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/log"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/metrics"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/mtdb"
	"github.com/tendrl-inc-labs/microtetherdb/pkg/query"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "microtetherdb",
	Short: "MicroTetherDB - embedded document store for resource-constrained targets",
	Long: `microtetherdb is a command-line front end for the embedded document
store: a B-tree-backed key/value engine with TTL expiry and predicate
queries, designed to run under tight memory budgets.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file (see Config in this package)")
	rootCmd.PersistentFlags().String("db", "", "database file path (omit for an in-memory store)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(statsCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

// openStore resolves the --config/--db flags into a running Store. A
// config file, when given, takes precedence over --db for everything it
// sets; --db always wins for the backing file itself.
func openStore(cmd *cobra.Command) (*mtdb.Store, error) {
	configPath, _ := cmd.Flags().GetString("config")
	dbPath, _ := cmd.Flags().GetString("db")

	opts, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		opts = append(opts, mtdb.WithFilename(dbPath))
	}
	return mtdb.Open(opts...)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a Prometheus metrics and health endpoint over an open store",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("listen")

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		mux := http.NewServeMux()
		mux.Handle("/metrics", store.Registry().Handler())
		mux.Handle("/healthz", metrics.HealthHandler())
		mux.Handle("/livez", metrics.LivenessHandler())

		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			log.Logger.Info().Str("addr", addr).Msg("serving metrics and health endpoints")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Logger.Error().Err(err).Msg("http server failed")
			}
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Logger.Info().Msg("shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", ":9117", "address to serve /metrics and health endpoints on")
}

var putCmd = &cobra.Command{
	Use:   "put [key] <json-value>",
	Short: "Store a JSON document, optionally under an explicit key",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		ttl, _ := cmd.Flags().GetInt64("ttl")

		var key string
		var raw string
		if len(args) == 2 {
			key, raw = args[0], args[1]
		} else {
			raw = args[0]
		}

		var doc codec.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return fmt.Errorf("invalid json value: %w", err)
		}

		var gotKey string
		if key != "" {
			gotKey, err = store.PutKey(key, doc, ttl, nil)
		} else {
			gotKey, err = store.Put(doc, ttl, nil)
		}
		if err != nil {
			return err
		}
		fmt.Println(gotKey)
		return nil
	},
}

func init() {
	putCmd.Flags().Int64("ttl", 0, "time-to-live in seconds (0 = no expiry)")
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch a document by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		doc, ok, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("key not found: %s", args[0])
		}
		b, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <key>",
	Short: "Delete a document by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		existed, err := store.Delete(args[0])
		if err != nil {
			return err
		}
		fmt.Println(existed)
		return nil
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <json-predicate>",
	Short: "Evaluate a predicate and print matching documents",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		var pred query.Predicate
		if err := json.Unmarshal([]byte(args[0]), &pred); err != nil {
			return fmt.Errorf("invalid json predicate: %w", err)
		}

		docs, err := store.Query(pred)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			b, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			fmt.Println(string(b))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print record count, TTL count, and queue depth",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		stats := store.Stats()
		b, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(b))
		return nil
	},
}
