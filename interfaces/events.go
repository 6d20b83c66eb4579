package interfaces

import (
	"context"

	"github.com/customeros/mailpulse/dto"
)

type EventPublisher interface {
	PublishFileProcessed(ctx context.Context, event dto.FileProcessed) error
	PublishAlertRaised(ctx context.Context, event dto.AlertRaised) error
	Close() error
}

type EventListener interface {
	Handle(ctx context.Context, event any) error
	GetEventType() string
	GetQueueName() string
}

type EventSubscriber interface {
	RegisterListener(listener EventListener)
	ListenQueue(queueName string) error
	Close() error
}
