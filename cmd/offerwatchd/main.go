// offerwatchd - ride offer extraction and overlay state daemon
//
// The daemon ingests accessibility-tree snapshots and notifications
// from a ride-hailing driver app (delivered over the daemon socket by
// the platform glue), extracts structured ride offers, tracks at most
// one offer through its lifecycle, and publishes overlay state to
// subscribed renderers.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"

	"offerwatchd/internal/config"
	"offerwatchd/internal/decision"
	"offerwatchd/internal/extract"
	"offerwatchd/internal/ipc"
	"offerwatchd/internal/logging"
	"offerwatchd/internal/metrics"
	"offerwatchd/internal/order"
	"offerwatchd/internal/pipeline"
	"offerwatchd/internal/state"
	"offerwatchd/internal/stats"
)

func main() {
	configPath := flag.String("config", "", "path to config file (.toml/.yaml/.json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "offerwatchd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	} else {
		cfg.ApplyEnvOverrides()
	}

	log, err := logging.New(cfg.LoggingConfigValue())
	if err != nil {
		return err
	}

	rules, err := loadOrSeedRules(cfg.Source.RulesPath)
	if err != nil {
		return err
	}
	extractor := extract.New(rules)

	normalizer, err := order.NewNormalizer(cfg.NormalizerConfigValue())
	if err != nil {
		return err
	}

	var store *stats.Store
	if cfg.Stats.Enabled {
		if store, err = stats.Open(cfg.Stats.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	machine := state.NewMachine(log.With("component", "state"))
	met := metrics.NewSet(nil)

	coord, err := pipeline.New(pipeline.Options{
		Config:     cfg.PipelineConfigValue(),
		Logger:     log.With("component", "pipeline"),
		Extractor:  extractor,
		Normalizer: normalizer,
		Engine:     decision.New(cfg.DecisionConfigValue()),
		Machine:    machine,
		Stats:      store,
		Metrics:    met,
	})
	if err != nil {
		return err
	}
	coord.Start()
	defer coord.Stop()

	// Log every render signal; this is the in-process stand-in for
	// the overlay renderer.
	go logOverlay(machine, log)

	server, err := ipc.NewServer(ipc.ServerOptions{
		Logger:     log.With("component", "ipc"),
		Coord:      coord,
		Machine:    machine,
		Stats:      store,
		Registry:   met.Registry(),
		DailyGoal:  cfg.Decision.DailyGoal,
		SocketPath: cfg.IPC.SocketPath,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	defer server.Stop()

	watcher, err := watchFiles(cfg, configPath, coord, log)
	if err != nil {
		return err
	}
	if watcher != nil {
		defer watcher.Stop()
	}

	log.Info("offerwatchd started",
		"socket", cfg.IPC.SocketPath,
		"rules", cfg.Source.RulesPath,
		"queue_size", cfg.PipelineConfigValue().QueueSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return nil
}

// loadOrSeedRules loads the configured rule file, writing the built-in
// table there on first run so operators have something to edit.
func loadOrSeedRules(path string) (*extract.RuleSet, error) {
	if path == "" {
		return extract.DefaultRules(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.Create(path)
		if err != nil {
			return nil, fmt.Errorf("seed rules file: %w", err)
		}
		err = toml.NewEncoder(f).Encode(extract.DefaultRulesConfig())
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("seed rules file: %w", err)
		}
	}
	return extract.LoadRules(path)
}

// watchFiles hot-reloads the extraction rules when the rule file
// changes. A file that fails to compile is logged and skipped; the
// previous table stays active.
func watchFiles(cfg *config.Config, configPath string, coord *pipeline.Coordinator, log *slog.Logger) (*config.Watcher, error) {
	if cfg.Source.RulesPath == "" {
		return nil, nil
	}
	w, err := config.NewWatcher(func(path string) {
		rs, err := extract.LoadRules(path)
		if err != nil {
			log.Error("rules reload failed, keeping previous table", "path", path, "error", err)
			return
		}
		coord.ReloadRules(rs)
	})
	if err != nil {
		return nil, err
	}
	if err := w.Add(cfg.Source.RulesPath); err != nil {
		return nil, err
	}
	_ = configPath // the daemon config itself requires a restart
	w.Start()
	return w, nil
}

func logOverlay(machine *state.Machine, log *slog.Logger) {
	for ov := range machine.Subscribe(16) {
		switch {
		case ov.Order != nil:
			log.Info("overlay",
				"seq", ov.Seq,
				"phase", ov.Phase.String(),
				"fare", ov.Order.Fare.String(),
				"fingerprint", ov.Order.Fingerprint)
		default:
			log.Info("overlay", "seq", ov.Seq, "phase", ov.Phase.String())
		}
	}
}
