package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"scadaflow/config"
	"scadaflow/internal/alarms"
	"scadaflow/internal/alertstore"
	"scadaflow/internal/connections"
	"scadaflow/internal/correlate"
	"scadaflow/internal/dispatch"
	inputredis "scadaflow/internal/input/redis"
	"scadaflow/internal/logger"
	"scadaflow/internal/metrics"
	"scadaflow/internal/output/alerthttp"
	"scadaflow/internal/output/alertjson"
	"scadaflow/internal/output/alertnats"
	"scadaflow/internal/output/entryclickhouse"
	"scadaflow/internal/output/entryjson"
	"scadaflow/internal/output/entrynats"
	"scadaflow/internal/parse"
	"scadaflow/internal/persist"
	"scadaflow/internal/pipeline"
	"scadaflow/internal/query"
	"scadaflow/internal/security"
	"scadaflow/pkg/models"
)

var errSIEMNotConfigured = errors.New("siem forwarding is not configured")

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("scadaflow.yml"); err == nil {
		return "scadaflow.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "scadaflow.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "scadaflow.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.ScadaFlow.Input.Redis.Addr == "" {
		cfg.ScadaFlow.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.ScadaFlow.Input.Redis.Key == "" {
		cfg.ScadaFlow.Input.Redis.Key = "scada_raw_logs"
	}
	if cfg.ScadaFlow.Input.Redis.BlockTimeout == 0 {
		cfg.ScadaFlow.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.ScadaFlow.Pipeline.IngestLanes <= 0 {
		cfg.ScadaFlow.Pipeline.IngestLanes = 4
	}
	if cfg.ScadaFlow.Pipeline.LaneQueueSize <= 0 {
		cfg.ScadaFlow.Pipeline.LaneQueueSize = 1024
	}
	if cfg.ScadaFlow.Pipeline.EvalQueueSize <= 0 {
		cfg.ScadaFlow.Pipeline.EvalQueueSize = 4096
	}
	if cfg.ScadaFlow.Pipeline.DrainTimeout <= 0 {
		cfg.ScadaFlow.Pipeline.DrainTimeout = 10 * time.Second
	}

	if cfg.ScadaFlow.Correlation.BufferSize <= 0 {
		cfg.ScadaFlow.Correlation.BufferSize = 10000
	}
	if cfg.ScadaFlow.Correlation.Skew <= 0 {
		cfg.ScadaFlow.Correlation.Skew = 5 * time.Second
	}

	if cfg.ScadaFlow.Persistence.Mode == "" {
		cfg.ScadaFlow.Persistence.Mode = "file"
	}
	if cfg.ScadaFlow.Persistence.File.Path == "" {
		cfg.ScadaFlow.Persistence.File.Path = "output/entries.jsonl"
	}
	if cfg.ScadaFlow.Persistence.DeadLetterDir == "" {
		cfg.ScadaFlow.Persistence.DeadLetterDir = "output/deadletter"
	}

	if cfg.ScadaFlow.Alerting.StoreSize <= 0 {
		cfg.ScadaFlow.Alerting.StoreSize = 512
	}
	if cfg.ScadaFlow.Alerting.File.Path == "" {
		cfg.ScadaFlow.Alerting.File.Path = "output/alerts.jsonl"
	}
	if cfg.ScadaFlow.Alerting.NATS.Subject == "" {
		cfg.ScadaFlow.Alerting.NATS.Subject = "scada.alerts"
	}

	if cfg.ScadaFlow.Connections.SweepInterval <= 0 {
		cfg.ScadaFlow.Connections.SweepInterval = 30 * time.Second
	}
	if cfg.ScadaFlow.Connections.StaleAfter <= 0 {
		cfg.ScadaFlow.Connections.StaleAfter = 5 * time.Minute
	}

	if cfg.ScadaFlow.Query.Addr == "" {
		cfg.ScadaFlow.Query.Addr = ":8080"
	}

	if cfg.ScadaFlow.Logging.Level == "" {
		cfg.ScadaFlow.Logging.Level = "info"
	}
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}
	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)
	sf := cfg.ScadaFlow

	if err := logger.Init(sf.Logging.Enabled, sf.Logging.Level, sf.Logging.File, sf.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("ScadaFlow starting")
	logger.Infof("Config loaded from: %s", configPath)

	m := metrics.New()
	registry := parse.NewRegistry()
	tracker := alarms.NewTracker(0)

	var rules []correlate.Rule
	if strings.TrimSpace(sf.Correlation.RulesPath) != "" {
		rules, err = correlate.LoadRules(sf.Correlation.RulesPath)
		if err != nil {
			logger.Errorf("Failed to load correlation rules: %v", err)
			log.Fatalf("Failed to load correlation rules: %v", err)
		}
		logger.Infof("Correlation rules loaded: %d from %s", len(rules), sf.Correlation.RulesPath)
	} else {
		logger.Warnf("No correlation rules path configured; alerting is disabled")
	}

	engine := correlate.NewEngine(correlate.Config{
		Rules:      rules,
		BufferSize: sf.Correlation.BufferSize,
		Skew:       sf.Correlation.Skew,
		OnSuppress: func(string) { m.AlertsSuppressed.Inc() },
	})

	var tagger *security.Tagger
	if sf.Security.Enabled {
		if strings.TrimSpace(sf.Security.RulesPath) == "" {
			logger.Warnf("Security tagging enabled but rules_path is empty; tagging disabled")
		} else {
			t, stats, err := security.NewTagger(sf.Security.RulesPath)
			if err != nil {
				logger.Errorf("Failed to load sigma rules from %s: %v", sf.Security.RulesPath, err)
				log.Fatalf("Failed to load sigma rules: %v", err)
			}
			tagger = t
			if stats.Loaded == 0 {
				logger.Warnf("No compatible sigma rules loaded; security tagging is effectively disabled")
			}
		}
	}

	conns := connections.NewRegistry()
	for _, static := range sf.Connections.Static {
		conns.Register(models.ScadaConnection{
			ConnectionID: static.ConnectionID,
			System:       models.SourceSystem(static.System),
			Node:         static.Node,
			Address:      static.Address,
			Protocol:     static.Protocol,
		})
	}

	var writer *persist.Writer
	if sf.Persistence.Enabled {
		var sink persist.Sink
		switch sf.Persistence.Mode {
		case "file":
			w, err := entryjson.NewWriter(sf.Persistence.File.Path)
			if err != nil {
				logger.Errorf("Failed to create entry file writer: %v", err)
				log.Fatalf("Failed to create entry file writer: %v", err)
			}
			sink = w
			logger.Infof("Persistence mode: file (%s)", sf.Persistence.File.Path)
		case "nats":
			p, err := entrynats.NewPublisher(sf.Persistence.NATS.URL, sf.Persistence.NATS.Subject)
			if err != nil {
				logger.Errorf("Failed to create entry NATS publisher: %v", err)
				log.Fatalf("Failed to create entry NATS publisher: %v", err)
			}
			sink = p
			logger.Infof("Persistence mode: nats (%s)", sf.Persistence.NATS.URL)
		case "clickhouse":
			w, err := entryclickhouse.NewWriter(entryclickhouse.Config{
				URL:             sf.Persistence.ClickHouse.URL,
				Database:        sf.Persistence.ClickHouse.Database,
				Table:           sf.Persistence.ClickHouse.Table,
				AlarmTable:      sf.Persistence.ClickHouse.AlarmTable,
				ConnectionTable: sf.Persistence.ClickHouse.ConnectionTable,
				Username:        sf.Persistence.ClickHouse.Username,
				Password:        sf.Persistence.ClickHouse.Password,
				Timeout:         sf.Persistence.ClickHouse.Timeout,
				Headers:         sf.Persistence.ClickHouse.Headers,
			})
			if err != nil {
				logger.Errorf("Failed to create entry ClickHouse writer: %v", err)
				log.Fatalf("Failed to create entry ClickHouse writer: %v", err)
			}
			sink = w
			logger.Infof("Persistence mode: clickhouse (%s)", sf.Persistence.ClickHouse.URL)
		default:
			log.Fatalf("Unknown persistence mode: %s", sf.Persistence.Mode)
		}
		writer = persist.NewWriter(sink, persist.Config{
			QueueSize:     sf.Persistence.QueueSize,
			BatchSize:     sf.Persistence.BatchSize,
			FlushInterval: sf.Persistence.FlushInterval,
			MaxRetries:    sf.Persistence.MaxRetries,
			RetryBackoff:  sf.Persistence.RetryBackoff,
			DeadLetterDir: sf.Persistence.DeadLetterDir,
			OnRetry:       func() { m.PersistenceRetries.Inc() },
			OnDeadLetter:  func(n int) { m.DeadLetters.Add(float64(n)) },
		})
	}

	store, err := alertstore.New(sf.Alerting.StoreSize)
	if err != nil {
		log.Fatalf("Failed to create alert store: %v", err)
	}

	var alertSinks []persist.AlertSink
	if sf.Alerting.File.Enabled {
		w, err := alertjson.NewWriter(sf.Alerting.File.Path)
		if err != nil {
			logger.Errorf("Failed to create alert file writer: %v", err)
			log.Fatalf("Failed to create alert file writer: %v", err)
		}
		alertSinks = append(alertSinks, w)
		logger.Infof("Alert output: file (%s)", sf.Alerting.File.Path)
	}
	if sf.Alerting.Webhook.Enabled {
		w, err := alerthttp.NewWriter(alerthttp.Config{
			URL:     sf.Alerting.Webhook.URL,
			Timeout: sf.Alerting.Webhook.Timeout,
			Headers: sf.Alerting.Webhook.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create alert webhook writer: %v", err)
			log.Fatalf("Failed to create alert webhook writer: %v", err)
		}
		alertSinks = append(alertSinks, w)
		logger.Infof("Alert output: webhook (%s)", sf.Alerting.Webhook.URL)
	}
	var siem *alertnats.Publisher
	if sf.Alerting.NATS.Enabled {
		p, err := alertnats.NewPublisher(sf.Alerting.NATS.URL, sf.Alerting.NATS.Subject)
		if err != nil {
			logger.Errorf("Failed to create alert NATS publisher: %v", err)
			log.Fatalf("Failed to create alert NATS publisher: %v", err)
		}
		siem = p
		logger.Infof("Alert output: nats (%s subject=%s)", sf.Alerting.NATS.URL, sf.Alerting.NATS.Subject)
	}

	dispatcher := dispatch.New(dispatch.Config{
		Notify: func(_ context.Context, alert *models.AlertEvent) error {
			logger.Warnf("NOTIFY alert %s rule=%s severity=%s entries=%d",
				alert.AlertID, alert.RuleName, alert.Severity, len(alert.EntryIDs))
			return nil
		},
		ForwardToSIEM: func(_ context.Context, alert *models.AlertEvent) error {
			if siem == nil {
				return errSIEMNotConfigured
			}
			return siem.PublishAlert(alert)
		},
		CreateIncident: func(_ context.Context, alert *models.AlertEvent) error {
			logger.Errorf("INCIDENT alert %s rule=%s severity=%s", alert.AlertID, alert.RuleName, alert.Severity)
			return nil
		},
		Escalate: func(_ context.Context, alert *models.AlertEvent) error {
			logger.Errorf("ESCALATE alert %s rule=%s severity=%s", alert.AlertID, alert.RuleName, alert.Severity)
			return nil
		},
		OnActionFailure: func(action string) { m.ActionsFailed.WithLabelValues(action).Inc() },
		Timeout:         sf.Alerting.ActionTimeout,
	})

	pipe := pipeline.New(pipeline.Config{
		IngestLanes:   sf.Pipeline.IngestLanes,
		LaneQueueSize: sf.Pipeline.LaneQueueSize,
		EvalQueueSize: sf.Pipeline.EvalQueueSize,
		DrainTimeout:  sf.Pipeline.DrainTimeout,
	}, pipeline.Components{
		Parsers:     registry,
		Tagger:      tagger,
		Tracker:     tracker,
		Engine:      engine,
		Dispatcher:  dispatcher,
		Persist:     writer,
		AlertStore:  store,
		AlertSinks:  alertSinks,
		Connections: conns,
		Metrics:     m,
	})
	pipe.Start()

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         sf.Input.Redis.Addr,
		Password:     sf.Input.Redis.Password,
		DB:           sf.Input.Redis.DB,
		Key:          sf.Input.Redis.Key,
		BlockTimeout: sf.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go conns.RunSweeper(ctx, sf.Connections.SweepInterval, sf.Connections.StaleAfter)
	go func() {
		if err := consumer.Run(ctx, pipe); err != nil {
			logger.Errorf("Feed consumer error: %v", err)
		}
	}()

	var api *query.Server
	if sf.Query.Enabled {
		api = query.NewServer(pipe, tracker, store, conns, dispatcher, m)
		go func() {
			if err := api.Start(sf.Query.Addr); err != nil {
				logger.Errorf("Query API error: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	if err := consumer.Close(); err != nil {
		logger.Errorf("Error closing Redis consumer: %v", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), sf.Pipeline.DrainTimeout+5*time.Second)
	defer stopCancel()
	if err := pipe.Stop(stopCtx); err != nil {
		logger.Errorf("Error stopping pipeline: %v", err)
	}
	if api != nil {
		if err := api.Shutdown(stopCtx); err != nil {
			logger.Errorf("Error stopping query API: %v", err)
		}
	}
	if siem != nil {
		if err := siem.Close(); err != nil {
			logger.Errorf("Error closing SIEM publisher: %v", err)
		}
	}

	logger.Infof("ScadaFlow stopped")
}
