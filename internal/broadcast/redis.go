package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const syncChannel = "classboard:sync"

// RedisBroker carries sync beats through Redis pub/sub so every worker
// process on a node (and any sibling node sharing the instance) sees them.
// Local fan-out still goes through an embedded Hub; the Redis round trip is
// what crosses process boundaries.
type RedisBroker struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *Hub
	done   chan struct{}
}

// NewRedisBroker connects to redisURL and starts relaying the sync channel.
func NewRedisBroker(redisURL string) (*RedisBroker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("broadcast: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("broadcast: connect to redis: %w", err)
	}

	b := &RedisBroker{
		client: client,
		pubsub: client.Subscribe(context.Background(), syncChannel),
		hub:    NewHub(),
		done:   make(chan struct{}),
	}
	go b.relay()
	return b, nil
}

func (b *RedisBroker) Subscribe() (<-chan Event, func()) {
	return b.hub.Subscribe()
}

// Publish pushes the beat through Redis; the relay loop delivers it to local
// subscribers when it comes back, same as for beats from other processes.
func (b *RedisBroker) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("broadcast: encode event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, syncChannel, payload).Err(); err != nil {
		log.Printf("broadcast: publish: %v", err)
		// degrade to process-local delivery
		b.hub.Publish(ev)
	}
}

func (b *RedisBroker) relay() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			log.Printf("broadcast: decode event: %v", err)
			continue
		}
		b.hub.Publish(ev)
	}
}

func (b *RedisBroker) Close() error {
	err := b.pubsub.Close()
	<-b.done
	b.hub.Close()
	if cerr := b.client.Close(); err == nil {
		err = cerr
	}
	return err
}
