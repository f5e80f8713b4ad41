package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis"
	"github.com/rs/xid"

	cfg "github.com/quayside/conveyor/config"
)

// DefaultQueue is the list the worker pool consumes from.
const DefaultQueue = "conveyor_tasks"

// Message is the envelope stored in the broker. Body carries the
// serialized task dispatch.
type Message struct {
	Body string
	ID   string
}

// Broker is a Redis list queue. Messages live in a hash keyed by message
// ID while their IDs move through the list, so an unacknowledged message
// is never lost between dequeue and acknowledge.
type Broker struct {
	redisClient *redis.Client
}

func NewBroker(config *cfg.Config) (*Broker, error) {
	options := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       int(config.Redis.Database),
	}
	return NewBrokerWithClient(redis.NewClient(options))
}

func NewBrokerWithClient(client *redis.Client) (*Broker, error) {
	if _, err := client.Ping().Result(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Broker{redisClient: client}, nil
}

// Enqueue adds a message to the queue and returns its broker-assigned ID.
func (b *Broker) Enqueue(body string, queueName string) (string, error) {
	m := Message{Body: body, ID: xid.New().String()}

	encoded, err := json.Marshal(&m)
	if err != nil {
		return "", err
	}

	pipeline := b.redisClient.TxPipeline()
	pipeline.HSet(messageStoreKey(queueName), m.ID, string(encoded))
	pipeline.LPush(queueName, m.ID)
	_, err = pipeline.Exec()

	return m.ID, err
}

// Dequeue fetches one message from the queue. An empty queue returns
// empty strings with a nil error.
//
// The rotate keeps unacknowledged messages on the list, so delivery is
// at least once: between a dequeue and its Acknowledge another worker
// can pick up the same message. Handlers must tolerate duplicate
// execution; the run store refuses to finish a run twice.
func (b *Broker) Dequeue(queueName string) (string, string, error) {
	id, err := b.redisClient.RPopLPush(queueName, queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return "", "", nil
		}
		return "", "", err
	}

	encoded, err := b.redisClient.HGet(messageStoreKey(queueName), id).Result()
	if err != nil {
		if err == redis.Nil {
			return "", "", nil
		}
		return "", "", err
	}

	var m Message
	if err = json.Unmarshal([]byte(encoded), &m); err != nil {
		return "", "", err
	}

	return id, m.Body, nil
}

// Acknowledge removes a processed message from the queue and its store.
func (b *Broker) Acknowledge(id string, queueName string) error {
	pipeline := b.redisClient.TxPipeline()
	pipeline.LRem(queueName, 1, id)
	pipeline.HDel(messageStoreKey(queueName), id)
	_, err := pipeline.Exec()
	return err
}

func (b *Broker) IsAlive() (bool, error) {
	ping, err := b.redisClient.Ping().Result()
	if err != nil {
		return false, err
	}
	return ping == "PONG", nil
}

func (b *Broker) Close() error {
	return b.redisClient.Close()
}

// Client exposes the underlying redis client for collaborators sharing
// the connection, such as the result backend.
func (b *Broker) Client() *redis.Client {
	return b.redisClient
}

func messageStoreKey(queueName string) string {
	return fmt.Sprintf("{message_store}_%s", queueName)
}
