// Command basicclient demonstrates leasing a connection, issuing a few
// commands, and subscribing to a Pub/Sub channel against a single
// standalone server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/IceFireDB/redwire"
	"github.com/IceFireDB/redwire/pkg/pubsub"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "server address")
	flag.Parse()

	c, err := redwire.New(redwire.Config{
		InitialAddresses:   []string{*addr},
		MinimumConnections: 1,
		Capacity:           redwire.StrictMax(8),
		InitialBackoff:     50 * time.Millisecond,
		BackoffFactor:      2,
		RetryTimeout:       3 * time.Second,
	})
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer c.Close()

	ctx := context.Background()

	if reply, err := c.Do(ctx, "SET", "foo", "3"); err != nil {
		log.Fatalf("set: %v", err)
	} else {
		fmt.Printf("SET foo 3 -> %+v\n", reply)
	}

	if reply, err := c.Do(ctx, "GET", "foo"); err != nil {
		log.Fatalf("get: %v", err)
	} else {
		fmt.Printf("GET foo -> %+v\n", reply)
	}

	sub, err := c.Subscribe(ctx, "news", func(msg pubsub.Message) {
		fmt.Printf("news: %s\n", msg.Payload)
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	time.Sleep(time.Second)
}
