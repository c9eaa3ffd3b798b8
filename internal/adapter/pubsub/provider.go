package pubsub

import (
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const (
	DriverGoChannel = "gochannel"
	DriverAMQP      = "amqp"
)

// Config selects the bus events are exported to and commands are read from.
type Config struct {
	Driver   string
	URI      string
	Exchange string
	// QueueSuffix keeps the command queues of two clients apart.
	QueueSuffix string
}

// Provider builds publishers and subscribers for the configured driver. The
// gochannel driver hands out one shared in-process bus.
type Provider struct {
	cfg    Config
	logger watermill.LoggerAdapter

	once    sync.Once
	channel *gochannel.GoChannel
}

func NewProvider(cfg Config, logger watermill.LoggerAdapter) *Provider {
	if cfg.Driver == "" {
		cfg.Driver = DriverGoChannel
	}
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) Driver() string { return p.cfg.Driver }

func (p *Provider) Publisher() (message.Publisher, error) {
	switch p.cfg.Driver {
	case DriverGoChannel:
		return p.goChannel(), nil
	case DriverAMQP:
		pub, err := amqp.NewPublisher(p.amqpConfig(), p.logger)
		if err != nil {
			return nil, fmt.Errorf("amqp publisher: %w", err)
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", p.cfg.Driver)
	}
}

func (p *Provider) Subscriber() (message.Subscriber, error) {
	switch p.cfg.Driver {
	case DriverGoChannel:
		return p.goChannel(), nil
	case DriverAMQP:
		sub, err := amqp.NewSubscriber(p.amqpConfig(), p.logger)
		if err != nil {
			return nil, fmt.Errorf("amqp subscriber: %w", err)
		}
		return sub, nil
	default:
		return nil, fmt.Errorf("unknown pubsub driver %q", p.cfg.Driver)
	}
}

func (p *Provider) goChannel() *gochannel.GoChannel {
	p.once.Do(func() {
		p.channel = gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, p.logger)
	})
	return p.channel
}

// amqpConfig binds every topic to one durable topic exchange; the watermill
// topic doubles as the routing key.
func (p *Provider) amqpConfig() amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(p.cfg.URI, amqp.GenerateQueueNameTopicNameWithSuffix(p.cfg.QueueSuffix))

	exchange := p.cfg.Exchange
	cfg.Exchange.GenerateName = func(string) string { return exchange }
	cfg.Exchange.Type = "topic"
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	return cfg
}
