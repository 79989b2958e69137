package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"permission_service/internal/repository"

	"github.com/rabbitmq/amqp091-go"
)

// Consumer defines the interface for event consumption
type Consumer interface {
	Start() error
	Close() error
}

// EventConsumer listens for directory-service events so the membership
// cache never serves a stale set after an actor changes organizations or
// teams.
type EventConsumer struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	redisRepo *repository.RedisRepo
	shutdown  chan struct{}
	wg        sync.WaitGroup
	enabled   bool
}

func NewEventConsumer(rabbitURI string, redisRepo *repository.RedisRepo) (*EventConsumer, error) {
	if rabbitURI == "" {
		log.Println("Warning: RabbitMQ URI is empty, event consumption is disabled")
		return &EventConsumer{
			redisRepo: redisRepo,
			shutdown:  make(chan struct{}),
			enabled:   false,
		}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	return &EventConsumer{
		conn:      conn,
		channel:   channel,
		queueName: "membership.updated.permission",
		redisRepo: redisRepo,
		shutdown:  make(chan struct{}),
		enabled:   true,
	}, nil
}

// Start starts consuming events
func (c *EventConsumer) Start() error {
	if !c.enabled {
		log.Println("Event consumption is disabled, not starting consumer")
		return nil
	}

	err := c.channel.ExchangeDeclare(
		"directory-events", // name
		"topic",            // type
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange directory-events: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,          // queue name
		"membership.updated", // routing key
		"directory-events",   // exchange
		false,                // no-wait
		nil,                  // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", c.queueName, err)
	}

	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consume(msgs)
	}()

	log.Println("Event consumer started and listening for directory events")
	return nil
}

func (c *EventConsumer) consume(msgs <-chan amqp091.Delivery) {
	for {
		select {
		case <-c.shutdown:
			log.Println("Stopping event consumer")
			return
		case msg, ok := <-msgs:
			if !ok {
				log.Println("Message channel closed, consumer stopping")
				return
			}

			err := c.processMessage(msg)
			if err != nil {
				log.Printf("FAILED to process message - Exchange: %s, RoutingKey: %s, Error: %v",
					msg.Exchange, msg.RoutingKey, err)

				// Acknowledge failed messages to prevent infinite requeuing.
				if ackErr := msg.Ack(false); ackErr != nil {
					log.Printf("Error acknowledging failed message: %v", ackErr)
				}
			} else {
				if err := msg.Ack(false); err != nil {
					log.Printf("Error acknowledging successful message: %v", err)
				}
			}
		}
	}
}

func (c *EventConsumer) processMessage(msg amqp091.Delivery) error {
	switch msg.RoutingKey {
	case "membership.updated":
		return c.handleMembershipUpdated(msg.Body)
	default:
		log.Printf("Unknown routing key: %s from exchange: %s", msg.RoutingKey, msg.Exchange)
		return nil
	}
}

func (c *EventConsumer) handleMembershipUpdated(body []byte) error {
	var event MembershipUpdatedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("failed to unmarshal membership updated event: %w", err)
	}

	if event.TenantID == "" || event.ActorID == "" {
		return fmt.Errorf("membership updated event missing tenant or actor id")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := repository.MembershipCacheKey(event.TenantID, event.ActorID)
	if err := c.redisRepo.DeleteKey(ctx, key); err != nil {
		return fmt.Errorf("error invalidating membership cache for actor %s: %w", event.ActorID, err)
	}

	log.Printf("Invalidated membership cache for actor %s in tenant %s", event.ActorID, event.TenantID)
	return nil
}

// Close stops the consumer and releases resources
func (c *EventConsumer) Close() error {
	close(c.shutdown)

	if !c.enabled {
		return nil
	}

	var err error
	if c.channel != nil {
		err = c.channel.Close()
	}
	if c.conn != nil {
		err = c.conn.Close()
	}

	c.wg.Wait()
	return err
}
