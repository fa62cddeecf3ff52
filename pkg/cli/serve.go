package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getrestd/restd/pkg/config"
	"github.com/getrestd/restd/pkg/engine"
	"github.com/getrestd/restd/pkg/logging"
	"github.com/getrestd/restd/pkg/storage"
	"github.com/getrestd/restd/pkg/storage/file"
	"github.com/getrestd/restd/pkg/storage/sqlite"
)

// shutdownTimeout is the maximum time to wait for in-flight requests on
// shutdown.
const shutdownTimeout = 30 * time.Second

type serveFlags struct {
	configFile  string
	listen      string
	driver      string
	storagePath string
	logLevel    string
	logFormat   string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the resource server (foreground)",
	Example: `  # Serve any resource from memory on :8080
  restd serve

  # Serve from a config file
  restd serve --config restd.yaml

  # Persist data to a file
  restd serve --storage file --storage-path data.json

  # Persist data to SQLite
  restd serve --storage sqlite --storage-path data.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(&serveFlagVals)
	},
}

func initServeCmd() {
	rootCmd.AddCommand(serveCmd)

	f := &serveFlagVals
	serveCmd.Flags().StringVarP(&f.configFile, "config", "c", "", "Path to configuration file (YAML or JSON)")
	serveCmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Listen address, overrides the config file")
	serveCmd.Flags().StringVar(&f.driver, "storage", "", "Storage driver: memory, file, sqlite")
	serveCmd.Flags().StringVar(&f.storagePath, "storage-path", "", "Data file for the file and sqlite drivers")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Minimum log level: debug, info, warn, error")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format: text, json")
}

func runServe(f *serveFlags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	gateway, err := buildGateway(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := gateway.Close(); cerr != nil {
			log.Error("failed to close storage", "error", cerr)
		}
	}()

	srv, err := engine.New(cfg, gateway, engine.WithLogger(log))
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}

// loadConfig loads the config file (or the defaults) and applies flag
// overrides on top.
func loadConfig(f *serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if f.configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(f.configFile)
		if err != nil {
			return nil, err
		}
	}

	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.driver != "" {
		cfg.Storage.Driver = f.driver
	}
	if f.storagePath != "" {
		cfg.Storage.Path = f.storagePath
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildGateway constructs the storage backend selected by the config and
// applies seed data. Seeds always apply to the fresh memory backend; the
// persistent backends are only seeded where they hold no data yet, so seeds
// never clobber live data across restarts.
func buildGateway(cfg *config.Config, log *slog.Logger) (storage.Gateway, error) {
	ctx := context.Background()

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		mem := storage.NewMemory()
		for resource, raw := range cfg.Seed {
			mem.Seed(strings.ToLower(resource), toItems(raw))
		}
		return mem, nil

	case config.DriverFile:
		st, err := file.Open(cfg.Storage.Path, log)
		if err != nil {
			return nil, err
		}
		for resource, raw := range cfg.Seed {
			resource = strings.ToLower(resource)
			existing, err := st.GetAll(ctx, resource)
			if err != nil {
				_ = st.Close()
				return nil, err
			}
			if len(existing) == 0 {
				st.Seed(resource, toItems(raw))
			}
		}
		return st, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		for resource, raw := range cfg.Seed {
			if err := st.Seed(ctx, strings.ToLower(resource), toItems(raw)); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return st, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func toItems(raw []map[string]any) []storage.Item {
	items := make([]storage.Item, len(raw))
	for i, m := range raw {
		items[i] = storage.Item(m)
	}
	return items
}
