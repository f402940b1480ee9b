package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"RelayIM/global/config"
	"RelayIM/logger"
	"RelayIM/module/auth"
	"RelayIM/service/backplane"
	"RelayIM/service/dispatcher/kafka"
	"RelayIM/service/hub"
	"RelayIM/service/receipt"
	"RelayIM/service/storage"
	redismgr "RelayIM/service/storage/redis"
	"RelayIM/tools/security"
)

func main() {
	config.Load()
	config.ConfigIds()
	if err := config.ConfigRedis(); err != nil {
		log.Fatalf("redis init failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := storage.DialMongo(ctx, storage.MongoConfig{
		URI:      config.Global.MongoURI,
		Database: config.Global.MongoDatabase,
	})
	cancel()
	if err != nil {
		log.Fatalf("mongo init failed: %v", err)
	}

	rdb := redismgr.Get()
	presence := storage.NewRedisPresence(rdb)
	tokens := storage.NewRedisTokens(rdb)
	tracker := receipt.NewTracker(store)

	// Cross-instance fan-out. Single-node deployments run without one.
	var bp backplane.Backplane
	switch config.Global.Backplane {
	case config.BackplaneRedis:
		bp = backplane.NewRedis(rdb, config.Global.BackplaneChannel)
	case config.BackplaneNats:
		nc, err := nats.Connect(config.Global.NatsURL)
		if err != nil {
			log.Fatalf("nats connect failed: %v", err)
		}
		bp = backplane.NewNats(nc, config.Global.BackplaneChannel)
	default:
		bp = backplane.NewNoop()
	}

	h := hub.New(hub.Config{NodeID: config.Global.NodeID}, store, store, presence, tracker, bp)
	if err := h.Run(context.Background()); err != nil {
		log.Fatalf("backplane start failed: %v", err)
	}

	// Push side channel, only when brokers are configured.
	if len(config.Global.KafkaBrokers) > 0 {
		if err := kafka.Init(config.Global.KafkaBrokers); err != nil {
			log.Fatalf("kafka init failed: %v", err)
		}
		h.SetPushSink(pushSink{p: kafka.NewProducer(config.Global.PushTopic)})
	}

	jwtOpts := security.DefaultOptions(config.JwtSecret())
	jwtOpts.TTL = config.Global.AccessTTL

	// gRPC health endpoint for the load balancer.
	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", config.Global.GrpcPort))
		if err != nil {
			log.Fatalf("gRPC listen failed: %v", err)
		}
		gs := grpc.NewServer()
		healthServer := health.NewServer()
		healthpb.RegisterHealthServer(gs, healthServer)
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		logger.Infof("[gRPC] listening on :%d", config.Global.GrpcPort)
		if err := gs.Serve(lis); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	ws := hub.NewWSServer(h, jwtOpts, hub.WSConfig{})
	authHandler := &auth.Handler{Tokens: tokens, JWT: jwtOpts, RefreshTTL: config.Global.RefreshTTL}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/chat", ws.HandleWS)
	r.POST("/auth/refresh", authHandler.HandleRefresh)

	logger.Infof("[HTTP] listening on :%d node=%s", config.Global.Port, config.Global.NodeID)
	if err := r.Run(fmt.Sprintf(":%d", config.Global.Port)); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

// pushSink adapts the kafka producer to the hub's post-persist hook.
type pushSink struct {
	p *kafka.Producer
}

func (s pushSink) MessageCreated(m storage.Message) error {
	return s.p.MessageCreated(kafka.MessageCreated{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ContentType:    m.ContentType,
		CreatedAt:      m.CreatedAt.UnixMilli(),
	})
}
