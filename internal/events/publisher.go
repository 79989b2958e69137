package events

import (
	"context"
	"log"

	"permission_service/internal/models"
)

type Publisher interface {
	PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant) error
	PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant) error
	PublishSecurityAlert(ctx context.Context, alert models.SecurityAlert) error

	// Close closes the publisher and releases resources
	Close() error
}

type EventPublisher struct {
	rabbitMQ *RabbitMQClient
	enabled  bool
}

func NewEventPublisher(rabbitURI string) (*EventPublisher, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event publishing is disabled")
		return &EventPublisher{
			rabbitMQ: nil,
			enabled:  false,
		}, nil
	}

	client, err := NewRabbitMQClient(rabbitURI)
	if err != nil {
		return nil, err
	}

	err = client.setupExchangesAndQueues()
	if err != nil {
		client.Close()
		return nil, err
	}

	return &EventPublisher{
		rabbitMQ: client,
		enabled:  true,
	}, nil
}

func (p *EventPublisher) PublishPermissionGranted(ctx context.Context, grant *models.PermissionGrant) error {
	return p.publishPermissionChange(PermissionGranted, grant, grant.GrantedBy)
}

func (p *EventPublisher) PublishPermissionRevoked(ctx context.Context, grant *models.PermissionGrant) error {
	return p.publishPermissionChange(PermissionRevoked, grant, grant.RevokedBy)
}

func (p *EventPublisher) publishPermissionChange(eventType EventType, grant *models.PermissionGrant, changedBy string) error {
	if !p.enabled {
		log.Printf("Event publishing is disabled, skipping %s", eventType)
		return nil
	}

	event := NewPermissionChangeEvent(eventType, grant, changedBy)

	eventData, err := event.ToJSON()
	if err != nil {
		return err
	}

	err = p.rabbitMQ.PublishEvent("permission-events", string(eventType), eventData)
	if err != nil {
		return err
	}

	log.Printf("Published %s event for grant %s", eventType, grant.ID.Hex())
	return nil
}

func (p *EventPublisher) PublishSecurityAlert(ctx context.Context, alert models.SecurityAlert) error {
	if !p.enabled {
		log.Println("Event publishing is disabled, skipping SecurityAlert")
		return nil
	}

	event := NewSecurityAlertEvent(alert)

	eventData, err := event.ToJSON()
	if err != nil {
		return err
	}

	err = p.rabbitMQ.PublishEvent("security-events", string(SecurityAlertRaised), eventData)
	if err != nil {
		return err
	}

	log.Printf("Published security alert %s for actor %s", alert.Type, alert.ActorID)
	return nil
}

// Close releases resources
func (p *EventPublisher) Close() error {
	if !p.enabled || p.rabbitMQ == nil {
		return nil
	}

	return p.rabbitMQ.Close()
}
