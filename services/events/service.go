package events

import (
	"go.uber.org/multierr"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/logger"
)

// EventsService owns the broker connections. Without a RabbitMQ URL the
// publisher drops events and there is no subscriber.
type EventsService struct {
	Publisher  interfaces.EventPublisher
	Subscriber interfaces.EventSubscriber
	rabbit     *RabbitMQPublisher
}

func NewEventsService(rabbitmqURL string, log logger.Logger, publisherConfig *PublisherConfig, subscriberConfig *SubscriberConfig) (*EventsService, error) {
	if rabbitmqURL == "" {
		log.Warn("RABBITMQ_URL not set, pipeline events will not be published")
		return &EventsService{Publisher: NewNoopPublisher(log)}, nil
	}

	publisher, err := NewRabbitMQPublisher(rabbitmqURL, log, publisherConfig)
	if err != nil {
		return nil, err
	}

	subscriber, err := NewRabbitMQSubscriber(rabbitmqURL, log, subscriberConfig)
	if err != nil {
		_ = publisher.Close()
		return nil, err
	}

	return &EventsService{
		Publisher:  publisher,
		Subscriber: subscriber,
		rabbit:     publisher,
	}, nil
}

// Broker returns the RabbitMQ publisher, nil when running without a broker.
func (s *EventsService) Broker() *RabbitMQPublisher {
	return s.rabbit
}

func (s *EventsService) Close() error {
	var err error
	if s.Publisher != nil {
		err = multierr.Append(err, s.Publisher.Close())
	}
	if s.Subscriber != nil {
		err = multierr.Append(err, s.Subscriber.Close())
	}
	return err
}
