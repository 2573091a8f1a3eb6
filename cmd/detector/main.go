/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command detector runs the API misuse/failure detector: it wires the
// configuration, logger, model artifacts, persistence, event bus, Slack
// notifier, detection pipeline, and Control API into one process, and
// serves both LIVE and SIM traffic until asked to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/jordigilh/apisentinel/internal/api"
	"github.com/jordigilh/apisentinel/internal/bus"
	"github.com/jordigilh/apisentinel/internal/config"
	"github.com/jordigilh/apisentinel/internal/detect/filter"
	"github.com/jordigilh/apisentinel/internal/detect/history"
	"github.com/jordigilh/apisentinel/internal/detect/model"
	"github.com/jordigilh/apisentinel/internal/detect/orchestrator"
	"github.com/jordigilh/apisentinel/internal/detect/rules"
	"github.com/jordigilh/apisentinel/internal/detect/score"
	"github.com/jordigilh/apisentinel/internal/detect/simulate"
	"github.com/jordigilh/apisentinel/internal/detect/types"
	"github.com/jordigilh/apisentinel/internal/logging"
	"github.com/jordigilh/apisentinel/internal/notifier"
	"github.com/jordigilh/apisentinel/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the detector's YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		cfg = config.Default()
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if watcher, err := config.Watch(*configPath, func(_ *config.Config, err error) {
		if err != nil {
			logger.Warn("config file changed but failed to reload; running config unchanged", zap.Error(err))
			return
		}
		logger.Info("config file changed on disk; restart to apply (open windows are never hot-reconfigured)")
	}); err == nil {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("detector exited with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	models, warnings := model.Load(model.Paths{
		IsolationForest:    cfg.Models.IsolationForest,
		LogisticRegression: cfg.Models.LogisticRegression,
		KMeans:             cfg.Models.KMeans,
		FailurePredictor:   cfg.Models.FailurePredictor,
	})
	for _, w := range warnings {
		logger.Warn("model artifact unavailable, submodel will degrade", zap.Error(w))
	}

	var detectionRepo *storage.DetectionRepository
	var observationWriter *storage.ObservationWriter
	if cfg.Database.DSN != "" {
		db, err := storage.Open(ctx, storage.Config{
			DSN:             cfg.Database.DSN,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			logger.Warn("persistence unavailable, detections will not be saved", zap.Error(err))
		} else {
			defer db.Close()
			detectionRepo = storage.NewDetectionRepository(db, logger)
			observationRepo := storage.NewObservationRepository(db, logger)
			observationWriter = storage.NewObservationWriter(observationRepo, cfg.SubscriberQueueDepth)
			defer observationWriter.Close()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
	}
	eventBus := bus.New(logger, cfg.SubscriberQueueDepth, redisClient)
	if redisClient != nil {
		go func() {
			if err := eventBus.RunRedisSubscriber(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("redis backplane subscriber stopped", zap.Error(err))
			}
		}()
	}

	f := filter.New(filter.NewRoutes(cfg.Routes.Live, cfg.Routes.Sim))
	ruleEngine := rules.New(rules.Thresholds(cfg.RuleThresholds))
	scorer := score.New(score.Weights(cfg.ScoreWeights), score.Bands(cfg.PriorityBands))
	simHistory := history.New(cfg.HistoryCapacity)

	simRoutes := cfg.Routes.Sim
	if len(simRoutes) == 0 {
		simRoutes = filter.DefaultSimRoutes
	}

	// The simulation engine's sink must be the orchestrator's Observe
	// method, but the orchestrator's constructor takes the engine as an
	// argument — sink indirects through a variable set right after New so
	// the two can be built in either order.
	var observe func(types.Observation)
	simEngine := simulate.New(simRoutes, func(o types.Observation) { observe(o) }, simulationLogger(cfg.Logging.Level))

	orch := orchestrator.New(f, cfg.Window.Size, models, ruleEngine, scorer, detectionRepo, observationWriter, eventBus, simHistory, simEngine, logger)
	observe = orch.Observe

	if cfg.Notifier.SlackBotToken != "" {
		slackNotifier := notifier.NewSlackNotifier(cfg.Notifier.SlackBotToken, cfg.Notifier.SlackChannel, logger)
		go slackNotifier.Run(ctx, eventBus)
	}

	server := api.NewServer(orch, simHistory, detectionRepo, eventBus, logger)
	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: server.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("control API listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}

// simulationLogger adapts the detector's configured log level to the
// logrus logger the simulation engine (C9) is built around.
func simulationLogger(level string) *logrus.Logger {
	l := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	return l
}
