package kafka

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	pkgerr "github.com/pkg/errors"
)

var (
	mu           sync.Mutex
	client       sarama.Client
	syncProducer sarama.SyncProducer
)

// Init connects the shared client and sync producer.
func Init(brokers []string) error {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		return nil
	}
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3

	c, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return pkgerr.Wrap(err, "kafka client")
	}
	p, err := sarama.NewSyncProducerFromClient(c)
	if err != nil {
		_ = c.Close()
		return pkgerr.Wrap(err, "kafka sync producer")
	}
	client, syncProducer = c, p
	return nil
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if syncProducer != nil {
		_ = syncProducer.Close()
		syncProducer = nil
	}
	if client != nil {
		_ = client.Close()
		client = nil
	}
}

// MessageCreated is the compact event the push service consumes. The opaque
// payload stays out of the stream on purpose; push content is resolved
// downstream.
type MessageCreated struct {
	MessageID      string `json:"messageId"`
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ContentType    string `json:"contentType"`
	CreatedAt      int64  `json:"createdAt"` // unix millis
}

// Producer publishes message-created events to one topic, keyed by
// conversation so per-conversation order survives partitioning.
type Producer struct {
	topic string
}

func NewProducer(topic string) *Producer {
	if topic == "" {
		topic = "im_message_created"
	}
	return &Producer{topic: topic}
}

func (p *Producer) MessageCreated(ev MessageCreated) error {
	mu.Lock()
	sp := syncProducer
	mu.Unlock()
	if sp == nil {
		return pkgerr.New("kafka not initialized")
	}
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().UnixMilli()
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return pkgerr.Wrap(err, "marshal message created")
	}
	_, _, err = sp.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.ConversationID),
		Value: sarama.ByteEncoder(raw),
	})
	if err != nil {
		return pkgerr.Wrap(err, "send message created")
	}
	return nil
}
