package messaging

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/alexharl/vulture-events-backend/config"
	"github.com/alexharl/vulture-events-backend/internal/models"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// ImportCompletedType is the CloudEvent type of a finished import
	ImportCompletedType = "events.import.completed"
	eventSource         = "vulture-events-backend/importer"
)

// Publisher announces finished imports
type Publisher interface {
	PublishImport(ctx context.Context, result models.ImportResult) error
	Close() error
}

// Sender is the subset of the Service Bus sender used by the publisher
type Sender interface {
	SendMessage(ctx context.Context, message *azservicebus.Message, options *azservicebus.SendMessageOptions) error
	Close(ctx context.Context) error
}

// ServiceBusPublisher sends CloudEvents to an Azure Service Bus queue
type ServiceBusPublisher struct {
	client    *azservicebus.Client
	sender    Sender
	queueName string
}

// NewServiceBusPublisher creates a publisher; a disabled config yields a no-op publisher
func NewServiceBusPublisher(cfg config.AzureConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	if cfg.QueueConnStr == "" {
		return nil, errors.New("Azure Service Bus connection string is empty")
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus sender")
	}

	return &ServiceBusPublisher{client: client, sender: sender, queueName: cfg.QueueName}, nil
}

// NewServiceBusPublisherWithSender wraps an existing sender
func NewServiceBusPublisherWithSender(sender Sender, queueName string) *ServiceBusPublisher {
	return &ServiceBusPublisher{sender: sender, queueName: queueName}
}

// NewImportEvent builds the CloudEvent announcing result
func NewImportEvent(result models.ImportResult) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	id := result.RunID
	if id == "" {
		id = uuid.NewString()
	}
	event.SetID(id)
	event.SetSource(eventSource)
	event.SetType(ImportCompletedType)
	event.SetSubject(result.Origin)
	event.SetTime(time.Now().UTC())
	event.SetSpecVersion(cloudevents.VersionV1)
	if err := event.SetData(cloudevents.ApplicationJSON, result); err != nil {
		return event, errors.Wrap(err, "failed to set event data")
	}
	event.SetExtension("origin", result.Origin)

	if err := event.Validate(); err != nil {
		return event, errors.Wrap(err, "invalid import event")
	}
	return event, nil
}

// PublishImport sends the structured-mode CloudEvent of result to the queue
func (p *ServiceBusPublisher) PublishImport(ctx context.Context, result models.ImportResult) error {
	event, err := NewImportEvent(result)
	if err != nil {
		return err
	}

	body, err := event.MarshalJSON()
	if err != nil {
		return errors.Wrap(err, "failed to marshal cloud event")
	}

	contentType := "application/cloudevents+json"
	msg := &azservicebus.Message{
		Body:        body,
		ContentType: &contentType,
		MessageID:   &event.Context.AsV1().ID,
		Subject:     &result.Origin,
		ApplicationProperties: map[string]interface{}{
			"source": eventSource,
			"type":   ImportCompletedType,
			"time":   time.Now().UTC().Format(time.RFC3339),
		},
	}

	if err := p.sender.SendMessage(ctx, msg, nil); err != nil {
		return errors.Wrapf(err, "failed to send import event to %s", p.queueName)
	}
	return nil
}

// Close closes the sender and the client
func (p *ServiceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

// NoopPublisher drops every notification
type NoopPublisher struct{}

// PublishImport does nothing
func (NoopPublisher) PublishImport(context.Context, models.ImportResult) error { return nil }

// Close does nothing
func (NoopPublisher) Close() error { return nil }
