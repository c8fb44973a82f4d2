// Package renderevents publishes overlay rebuild events to Kafka.
package renderevents

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/model"
	"github.com/mohammed-shakir/h3-hexoverlay/internal/core/observability"
)

type Publisher struct {
	topic   string
	events  chan model.RenderEvent
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
	errsWG  sync.WaitGroup
	once    sync.Once
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("renderevents: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, log), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan model.RenderEvent, queueSize),
		prod:    prod,
		log:     log.With("component", "renderevents"),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("marshal render event", "err", err)
				observability.IncEventPublish("error")
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Session),
				Value: sarama.ByteEncoder(b),
			}
			observability.IncEventPublish("sent")
		}
	}()

	p.errsWG.Add(1)
	go func() {
		defer p.errsWG.Done()
		for err := range p.prod.Errors() {
			if err != nil {
				observability.IncEventPublish("error")
				p.log.Warn("producer error", "err", err.Err)
			}
		}
	}()

	return p
}

// Publish enqueues ev. A full queue drops the event instead of blocking the
// overlay loop.
func (p *Publisher) Publish(ev model.RenderEvent) {
	select {
	case p.events <- ev:
	default:
		observability.IncEventPublish("dropped")
	}
}

// Close flushes queued events and closes the producer. Publish must not be
// called afterwards.
func (p *Publisher) Close() error {
	var err error
	p.once.Do(func() {
		close(p.events)
		<-p.stopped
		if cerr := p.prod.Close(); cerr != nil {
			err = fmt.Errorf("renderevents: close producer: %w", cerr)
		}
		p.errsWG.Wait()
	})
	return err
}
