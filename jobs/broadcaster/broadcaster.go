// Package broadcaster drains the trade outbox to Kafka. Delivery is
// at-least-once: an entry is marked SENT before the publish and
// ACKED only after the broker confirms, so a crash in between
// re-sends on the next pass.
package broadcaster

import (
	"context"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"fenrir/infra/outbox"
)

type Broadcaster struct {
	outbox   *outbox.Outbox
	producer sarama.SyncProducer
	topic    string
	interval time.Duration
	log      *slog.Logger
}

func New(ob *outbox.Outbox, brokers []string, topic string, log *slog.Logger) (*Broadcaster, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		outbox:   ob,
		producer: producer,
		topic:    topic,
		interval: 250 * time.Millisecond,
		log:      log,
	}, nil
}

// Run drains pending entries until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("trade broadcaster started", "topic", b.topic)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.drainOnce()
		}
	}
}

func (b *Broadcaster) drainOnce() {
	err := b.outbox.ScanPending(func(e outbox.Entry) error {
		if err := b.outbox.MarkSent(e.Seq); err != nil {
			return err
		}
		_, _, err := b.producer.SendMessage(&sarama.ProducerMessage{
			Topic: b.topic,
			Value: sarama.ByteEncoder(e.Payload),
		})
		if err != nil {
			_ = b.outbox.MarkFailed(e.Seq)
			b.log.Warn("trade publish failed", "seq", e.Seq, "err", err)
			return nil // retry on the next pass
		}
		return b.outbox.MarkAcked(e.Seq)
	})
	if err != nil {
		b.log.Error("outbox scan", "err", err)
	}
}

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
