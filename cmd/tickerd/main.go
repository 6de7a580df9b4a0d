package main

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/engine"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/feed"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/gateway"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/hub"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/quoter"
	"github.com/athiwatp/ticker-tapi/cmd/tickerd/internal/sink"
	"github.com/athiwatp/ticker-tapi/pkg/config"
)

// Seed prices for well-known symbols; anything else configured under
// engine.symbols starts at a flat 100.
var seedPrices = map[string]float64{
	"AAPL": 150.0, "GOOG": 2800.0, "TSLA": 700.0, "AMZN": 3400.0,
}

func basePrices(symbols []string) map[string]float64 {
	prices := make(map[string]float64, len(symbols))
	for _, raw := range symbols {
		sym := engine.Canonical(raw)
		if sym == "" {
			continue
		}
		px, ok := seedPrices[sym]
		if !ok {
			px = 100.0
		}
		prices[sym] = px
	}
	return prices
}

var logger *zap.Logger

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err = config.NewLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Ensure the tick topic exists before the first write
	createTopic(cfg.Kafka.Brokers[0], cfg.Kafka.Topic)

	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
		// Optimization: Send batches to reduce network IO
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		Async:        true, // Write non-blocking (fire and forget handled by buffer)
	}

	rnd := feed.RealRand{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	policy := feed.NewSimulatedPolicy(rnd)

	snapshotTTL := time.Duration(cfg.Recorder.SnapshotTTLMin) * time.Minute
	fan := sink.NewFanout(
		sink.NewLog(logger),
		sink.NewRedis(rdb, logger, snapshotTTL),
		sink.NewKafka(writer, logger),
	)

	interval := time.Duration(cfg.Engine.UpdateFrequencyMs) * time.Millisecond
	eng, err := engine.New(quoter.NewStatic(basePrices(cfg.Engine.Symbols)), fan, policy, logger, interval)
	if err != nil {
		logger.Fatal("Failed to build engine", zap.Error(err))
	}

	// The hub consumes the engine (subscribe calls) and the engine feeds
	// the hub (tick broadcasts), so the hub joins the fanout last.
	wsHub := hub.NewHub(eng, logger)
	fan.Add(wsHub)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}

		client := gateway.NewClient(conn, wsHub, logger)
		client.Start()
	})

	srv := &http.Server{Addr: cfg.App.Port, Handler: mux}

	go func() {
		logger.Info("Server Started", zap.String("port", cfg.App.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP Error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("Shutdown signal received")

	srv.Shutdown(context.Background())
	eng.StopTicker()

	// Flush buffered Kafka writes before exiting
	if err := writer.Close(); err != nil {
		logger.Error("Error closing Kafka writer", zap.Error(err))
	}
	rdb.Close()
	logger.Info("Shutdown Complete")
}

func createTopic(brokerAddress, topicName string) {
	conn, err := kafka.Dial("tcp", brokerAddress)
	if err != nil {
		logger.Warn("Failed to dial leader for topic creation", zap.Error(err))
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		logger.Warn("Failed to connect to controller", zap.Error(err))
		return
	}

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		logger.Warn("Failed to dial controller", zap.Error(err))
		return
	}
	defer controllerConn.Close()

	topicConfigs := []kafka.TopicConfig{{
		Topic:             topicName,
		NumPartitions:     4,
		ReplicationFactor: 1,
	}}

	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		logger.Debug("Topic creation info", zap.Error(err))
	}
}
