package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	cfg "github.com/veriguard/auth-service/internal/config"
)

// Publisher is the event sink the services depend on. The Kafka shipper
// implements it for production; NopPublisher stands in for tests.
type Publisher interface {
	Publish(ev any)
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(ev any) {}

// KafkaShipper ships fraud and OTP audit events to Kafka off the request
// path. Enqueueing never blocks; events are dropped when the queue is
// full.
type KafkaShipper struct {
	cfg    cfg.KafkaConfig
	wFraud *kafka.Writer
	wOTP   *kafka.Writer
	ch     chan any
	stop   chan struct{}
}

func NewKafkaShipper(cfgIn cfg.KafkaConfig) (*KafkaShipper, error) {
	cfg := cfgIn
	if !cfg.Enabled {
		return &KafkaShipper{cfg: cfg, ch: make(chan any), stop: make(chan struct{})}, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.BatchSize * 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	tr := &kafka.Transport{
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	var wFraud, wOTP *kafka.Writer
	if cfg.TopicFraud != "" {
		wFraud = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.TopicFraud,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Transport:              tr,
			AllowAutoTopicCreation: false,
			Async:                  true,
			BatchTimeout:           cfg.FlushEvery,
			BatchSize:              cfg.BatchSize,
			WriteTimeout:           cfg.WriteTimeout,
		}
	}
	if cfg.TopicOTPAudit != "" {
		wOTP = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.TopicOTPAudit,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Transport:              tr,
			AllowAutoTopicCreation: false,
			Async:                  true,
			BatchTimeout:           cfg.FlushEvery,
			BatchSize:              cfg.BatchSize,
			WriteTimeout:           cfg.WriteTimeout,
		}
	}

	return &KafkaShipper{
		cfg:    cfg,
		wFraud: wFraud,
		wOTP:   wOTP,
		ch:     make(chan any, cfg.QueueCapacity),
		stop:   make(chan struct{}),
	}, nil
}

func (s *KafkaShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

func (s *KafkaShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	close(s.stop)
	// drain briefly
	drain := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-s.ch:
			_ = s.dispatch(ev)
		case <-drain:
			if s.wFraud != nil {
				_ = s.wFraud.Close()
			}
			if s.wOTP != nil {
				_ = s.wOTP.Close()
			}
			return
		}
	}
}

func (s *KafkaShipper) Publish(ev any) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// drop on backpressure
	}
}

func (s *KafkaShipper) loop() {
	for {
		select {
		case ev := <-s.ch:
			_ = s.dispatch(ev)
		case <-s.stop:
			// drain remaining quickly
			for {
				select {
				case ev := <-s.ch:
					_ = s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaShipper) dispatch(ev any) error {
	now := time.Now().UTC()
	m := map[string]any{}
	b, _ := json.Marshal(ev)
	_ = json.Unmarshal(b, &m)
	// Events published without an explicit timestamp carry Go's zero
	// time after marshaling; stamp those here.
	if ts, ok := m["@timestamp"].(string); !ok || ts == "" || strings.HasPrefix(ts, "0001-01-01") {
		m["@timestamp"] = now
	}
	payload, _ := json.Marshal(m)

	key := func(field string) []byte {
		if v, ok := m[field]; ok && v != nil {
			if str, ok := v.(string); ok && str != "" {
				return []byte(str)
			}
		}
		return nil
	}

	switch ev.(type) {
	case FraudEvent:
		if s.wFraud == nil {
			return nil
		}
		return s.wFraud.WriteMessages(context.Background(), kafka.Message{
			Key:   key("value"),
			Value: payload,
			Time:  now,
		})
	case OTPAuditEvent:
		if s.wOTP == nil {
			return nil
		}
		return s.wOTP.WriteMessages(context.Background(), kafka.Message{
			Key:   key("subject"),
			Value: payload,
			Time:  now,
		})
	default:
		if s.wFraud != nil {
			return s.wFraud.WriteMessages(context.Background(), kafka.Message{
				Value: payload,
				Time:  now,
			})
		}
	}
	return nil
}
