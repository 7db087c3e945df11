// Command client invokes the greeter command once against a running
// greeter server and prints the response.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"time"

	rpc "github.com/nimblerpc/core"
	"github.com/nimblerpc/core/adapter/paho"
	intlog "github.com/nimblerpc/core/internal/log"
)

type (
	// GreetingRequest is the greeter command's request payload.
	GreetingRequest struct {
		Name string `json:"name"`
	}

	// GreetingResponse is the greeter command's response payload.
	GreetingResponse struct {
		Greeting string `json:"greeting"`
	}
)

const requestTopic = "greeter/{executorId}/invoke"

// occurredAtMetadata is a CloudEvents-style "time" header carried as
// application metadata, stamped in RFC 3339/ISO 8601 and parsed back out by
// the server with relvacode/iso8601 (see SPEC_FULL.md §6).
const occurredAtMetadata = "occurredAt"

func main() {
	addr := flag.String("broker", "localhost:1883", "MQTT broker address")
	clientID := flag.String("client-id", "greeter-client", "MQTT client id")
	executorID := flag.String("executor-id", "greeter-server", "target executor's client id")
	name := flag.String("name", "world", "name to greet")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := intlog.Wrap(slog.Default(), slog.Default())

	client, err := paho.Dial(ctx, *addr, paho.WithClientID(*clientID), paho.WithLogger{Logger: logger})
	if err != nil {
		log.Fatalf("dial broker: %v", err)
	}
	defer client.Close()

	app, err := rpc.NewApplication(rpc.WithLogger(logger))
	if err != nil {
		log.Fatalf("new application: %v", err)
	}

	invoker, err := rpc.NewCommandInvoker[GreetingRequest, GreetingResponse](
		app, client,
		rpc.JSON[GreetingRequest]{}, rpc.JSON[GreetingResponse]{},
		requestTopic,
		rpc.WithTopicTokens{"executorId": *executorID},
		rpc.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("new command invoker: %v", err)
	}
	defer invoker.Close()

	if err := invoker.Start(ctx); err != nil {
		log.Fatalf("start command invoker: %v", err)
	}

	res, err := invoker.Invoke(ctx, GreetingRequest{Name: *name},
		rpc.WithTimeout(5*time.Second),
		rpc.WithMetadata{occurredAtMetadata: time.Now().UTC().Format(time.RFC3339)},
	)
	if err != nil {
		log.Fatalf("invoke greeter: %v", err)
	}
	log.Printf("greeter says: %s", res.Payload.Greeting)
}
