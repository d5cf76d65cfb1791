package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"CragProject/global/config"
	"CragProject/logger"
	midsec "CragProject/middleware/security"
	"CragProject/service/api"
	"CragProject/service/kafka"
	"CragProject/service/metrics"
	"CragProject/service/natsx"
	"CragProject/service/realtime"
	"CragProject/service/realtime/handlers"
	"CragProject/service/storage"
	redisx "CragProject/service/storage/redis"
	"CragProject/service/store"
	"CragProject/service/store/memstore"
	"CragProject/service/store/sqlstore"
	"CragProject/tools/ids"
	toolsec "CragProject/tools/security"

	"github.com/Shopify/sarama"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "crag.realtime"

type closer func()

func runServe(ctx context.Context, cfg *config.AppConfig) error {
	logger.SetLevel(cfg.Log.Level)
	ids.SetNodeID(cfg.Server.SnowflakeNode)
	gin.SetMode(gin.ReleaseMode)

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 1) 存储
	st, closeStore, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	closers = append(closers, closeStore)

	// 2) 离线队列
	offline, closeOffline, err := openOffline(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeOffline)

	// 3) 事件镜像 (可选)
	mirror, closeMirror, err := openMirror(cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeMirror)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	identity := toolsec.NewJWTIdentity(jwtOptions(cfg.Auth))
	hub := realtime.New(realtime.Conf{
		SendBuffer:      cfg.Realtime.SendBuffer,
		PingInterval:    cfg.Realtime.PingInterval,
		ReadTimeout:     cfg.Realtime.ReadTimeout,
		MaxMessageBytes: cfg.Realtime.MaxMessageBytes,
		NodeID:          cfg.Server.SnowflakeNode,
	}, realtime.Deps{
		Store:   st,
		Auth:    realtime.NewAuthenticator(identity, midsec.DefaultOptions()),
		Offline: offline,
		Mirror:  mirror,
		Metrics: metrics.New(reg),
	})
	handlers.RegisterAll(hub)
	hub.Start()

	// 4) HTTP + WebSocket
	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewEngine(hub, api.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Identity:       identity,
			Gatherer:       reg,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Infof("[HTTP] node=%s listening on %s", cfg.Server.NodeID, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// 5) gRPC health
	var (
		gs *grpc.Server
		hs *health.Server
	)
	if cfg.Server.GrpcPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		gs = grpc.NewServer()
		hs = health.NewServer()
		healthpb.RegisterHealthServer(gs, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		hs.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)
		go func() {
			logger.Infof("[gRPC] health listening on %s", lis.Addr())
			if err := gs.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Infof("[Serve] shutting down")
	case err := <-errCh:
		logger.Errorf("[Serve] %v", err)
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if hs != nil {
		hs.Shutdown()
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warnf("[HTTP] shutdown: %v", err)
	}
	if err := hub.Shutdown(shutCtx); err != nil {
		logger.Warnf("[Hub] shutdown: %v", err)
	}
	if gs != nil {
		gs.GracefulStop()
	}
	return nil
}

func openStore(ctx context.Context, c config.DatabaseConfig) (store.Store, closer, error) {
	if c.DSN == "" {
		logger.Warnf("[Store] database.dsn empty, using in-memory store")
		return memstore.New(), func() {}, nil
	}
	s, err := sqlstore.Open(ctx, sqlstore.Config{DSN: c.DSN, MaxOpenConns: c.MaxOpenConns})
	if err != nil {
		return nil, nil, err
	}
	if c.Migrate {
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, nil, err
		}
	}
	return s, func() { _ = s.Close() }, nil
}

func openOffline(cfg *config.AppConfig) (realtime.OfflineQueue, closer, error) {
	if cfg.Redis.Addr == "" {
		return realtime.NewMemoryQueue(cfg.Realtime.OfflineMax), func() {}, nil
	}
	if err := redisx.InitRedis(redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	q := storage.NewRedisQueue(redisx.GetRedis(), storage.QueueOptions{
		MaxPerUser: cfg.Realtime.OfflineMax,
		TTL:        cfg.Realtime.OfflineTTL,
	})
	logger.Infof("[Offline] redis queue at %s", cfg.Redis.Addr)
	return q, func() { _ = redisx.CloseRedis() }, nil
}

func openMirror(cfg *config.AppConfig) (realtime.Mirror, closer, error) {
	switch {
	case len(cfg.Nats.Servers) > 0:
		mode := natsx.Core
		if cfg.Nats.JetStream {
			mode = natsx.JetStream
		}
		c, err := natsx.NewNatsxClient(natsx.NatsxConfig{
			Servers: cfg.Nats.Servers,
			Name:    cfg.Server.NodeID,
			Mode:    mode,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		logger.Infof("[Mirror] nats servers=%v jetstream=%v", cfg.Nats.Servers, cfg.Nats.JetStream)
		return natsx.NewMirror(c, cfg.Nats.SubjectPrefix), func() { _ = c.Close() }, nil

	case len(cfg.Kafka.Brokers) > 0:
		kc := kafka.DefaultConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.TopicPattern = cfg.Kafka.TopicPattern
		kc.TopicCount = cfg.Kafka.TopicCount
		kc.PartitionsPerTopic = int32(cfg.Kafka.Partitions)
		kc.ReplicationFactor = int16(cfg.Kafka.Replication)
		kc.ProducerCompression = cfg.Kafka.Compression
		kc.AutoCreateTopicsOnStart = cfg.Kafka.CreateTopics
		client, producer, err := kafka.Connect(kc)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka: %w", err)
		}
		m := kafka.NewMirror(producer, kc)
		logger.Infof("[Mirror] kafka brokers=%v topics=%v", kc.Brokers, kafka.GenTopics(kc))
		return m, func() { closeKafka(m, client) }, nil
	}
	return nil, func() {}, nil
}

func closeKafka(m *kafka.Mirror, client sarama.Client) {
	if err := m.Close(); err != nil {
		logger.Warnf("[Mirror] kafka producer close: %v", err)
	}
	if !client.Closed() {
		_ = client.Close()
	}
}
