// Command server runs the greeter command executor end to end against a
// real MQTT broker, demonstrating the core wired to adapter/paho.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"github.com/relvacode/iso8601"

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
// application metadata (see SPEC_FULL.md §6); the client stamps it in
// RFC 3339 and the server parses it here with relvacode/iso8601.
const occurredAtMetadata = "occurredAt"

func main() {
	addr := flag.String("broker", "localhost:1883", "MQTT broker address")
	clientID := flag.String("client-id", "greeter-server", "MQTT client id")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

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

	handler := func(ctx context.Context, req *rpc.CommandRequest[GreetingRequest]) (*rpc.CommandResponse[GreetingResponse], error) {
		if raw, ok := req.Metadata[occurredAtMetadata]; ok {
			if occurredAt, err := iso8601.ParseString(raw); err != nil {
				logger.Warn(ctx, err)
			} else {
				logger.Debug(ctx, "request occurred at", slog.Time("occurred_at", occurredAt))
			}
		}
		return rpc.Respond(GreetingResponse{Greeting: "Hello, " + req.Payload.Name + "!"})
	}

	executor, err := rpc.NewCommandExecutor(
		app, client,
		rpc.JSON[GreetingRequest]{}, rpc.JSON[GreetingResponse]{},
		requestTopic, handler,
		rpc.WithTopicTokens{"executorId": *clientID},
		rpc.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("new command executor: %v", err)
	}
	defer executor.Close()

	if err := executor.Start(ctx); err != nil {
		log.Fatalf("start command executor: %v", err)
	}

	logger.Debug(ctx, "greeter server ready", slog.String("client_id", *clientID))
	<-ctx.Done()
}
