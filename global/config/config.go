package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"RelayIM/logger"
	redis "RelayIM/service/storage/redis"
	"RelayIM/tools/ids"
)

// Backplane selection.
const (
	BackplaneNone  = "none"
	BackplaneRedis = "redis"
	BackplaneNats  = "nats"
)

type AppConfig struct {
	NodeID   string
	Port     int
	GrpcPort int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MongoURI      string
	MongoDatabase string

	KafkaBrokers []string
	PushTopic    string

	NatsURL          string
	Backplane        string
	BackplaneChannel string

	JWTSecret  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Global carries the in-code defaults; Load applies env overrides on top.
var Global = AppConfig{
	NodeID:           "relay-1",
	Port:             8080,
	GrpcPort:         50052,
	RedisAddr:        "127.0.0.1:6379",
	MongoURI:         "mongodb://127.0.0.1:27017",
	MongoDatabase:    "relay_im",
	KafkaBrokers:     nil, // push side channel off unless KAFKA_BROKERS is set
	PushTopic:        "im_message_created",
	NatsURL:          "nats://127.0.0.1:4222",
	Backplane:        BackplaneNone,
	BackplaneChannel: "im:backplane",
	AccessTTL:        2 * time.Hour,
	RefreshTTL:       30 * 24 * time.Hour,
}

func Load() {
	strVar(&Global.NodeID, "NODE_ID")
	intVar(&Global.Port, "PORT")
	intVar(&Global.GrpcPort, "GRPC_PORT")
	strVar(&Global.RedisAddr, "REDIS_ADDR")
	strVar(&Global.RedisPassword, "REDIS_PASSWORD")
	intVar(&Global.RedisDB, "REDIS_DB")
	strVar(&Global.MongoURI, "MONGO_URI")
	strVar(&Global.MongoDatabase, "MONGO_DATABASE")
	strVar(&Global.NatsURL, "NATS_URL")
	strVar(&Global.Backplane, "BACKPLANE")
	strVar(&Global.BackplaneChannel, "BACKPLANE_CHANNEL")
	strVar(&Global.JWTSecret, "JWT_SECRET")
	strVar(&Global.PushTopic, "PUSH_TOPIC")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		Global.KafkaBrokers = strings.Split(v, ",")
	}
}

// JwtSecret returns the HMAC key. The in-code fallback is for local runs
// only.
func JwtSecret() []byte {
	if Global.JWTSecret != "" {
		return []byte(Global.JWTSecret)
	}
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

func ConfigIds() {
	// Derive the snowflake node from the relay node id so two instances
	// never mint colliding message ids.
	var sum int64
	for _, b := range []byte(Global.NodeID) {
		sum = sum*31 + int64(b)
	}
	node := sum % 1024
	if node < 0 {
		node = -node
	}
	ids.SetNodeID(node)
	logger.Infof("[Config] snowflake node=%d", node)
}

func ConfigRedis() error {
	return redis.Init(redis.Config{
		Addr:     Global.RedisAddr,
		Password: Global.RedisPassword,
		DB:       Global.RedisDB,
	})
}

func strVar(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func intVar(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
