package paho_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	rpc "github.com/nimblerpc/core"
	"github.com/nimblerpc/core/adapter/paho"
	"github.com/nimblerpc/core/internal/constants"
	"github.com/nimblerpc/core/pubsub"
)

// These tests spin up an in-process mochi-mqtt broker and drive the
// greeter command end to end through two real paho.golang clients,
// covering spec.md §8's concrete scenarios against a real MQTT 5 wire
// format rather than an in-memory stub.

const mochiPort = 18830

type (
	greetRequest  struct{ Name string }
	greetResponse struct{ Greeting string }
)

func startMochiBroker(t *testing.T, port int) {
	t.Helper()
	server := mochi.New(nil)
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	cfg := listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		Address: fmt.Sprintf("localhost:%d", port),
	})
	require.NoError(t, server.AddListener(cfg))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	// Give the listener a moment to accept connections.
	time.Sleep(50 * time.Millisecond)
}

func dialPaho(t *testing.T, ctx context.Context, port int, clientID string) *paho.Client {
	t.Helper()
	client, err := paho.Dial(ctx, fmt.Sprintf("localhost:%d", port), paho.WithClientID(clientID))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// TestHappyPathOverMochi grounds spec.md §8 scenario 1: a request/response
// round trip through a real broker and two real MQTT 5 clients.
func TestHappyPathOverMochi(t *testing.T) {
	startMochiBroker(t, mochiPort)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverClient := dialPaho(t, ctx, mochiPort, "greeter-server")
	clientClient := dialPaho(t, ctx, mochiPort, "greeter-client")

	app, err := rpc.NewApplication()
	require.NoError(t, err)

	var invocations int
	var mu sync.Mutex
	handler := func(_ context.Context, req *rpc.CommandRequest[greetRequest]) (*rpc.CommandResponse[greetResponse], error) {
		mu.Lock()
		invocations++
		mu.Unlock()
		return rpc.Respond(greetResponse{Greeting: "hello " + req.Payload.Name})
	}

	executor, err := rpc.NewCommandExecutor(
		app, serverClient,
		rpc.JSON[greetRequest]{}, rpc.JSON[greetResponse]{},
		"greeter/{executorId}/invoke", handler,
		rpc.WithTopicTokens{"executorId": "greeter-server"},
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[greetRequest, greetResponse](
		app, clientClient,
		rpc.JSON[greetRequest]{}, rpc.JSON[greetResponse]{},
		"greeter/{executorId}/invoke",
		rpc.WithTopicTokens{"executorId": "greeter-server"},
	)
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	// Subscriptions need a moment to land before the request is published.
	time.Sleep(100 * time.Millisecond)

	res, err := invoker.Invoke(ctx, greetRequest{Name: "ralph"}, rpc.WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "hello ralph", res.Payload.Greeting)

	mu.Lock()
	require.Equal(t, 1, invocations)
	mu.Unlock()
}

// TestCorrelationMismatchOverMochi grounds spec.md §8 scenario 6: a
// response the invoker never asked for (stale correlation data) is
// dropped silently instead of crashing or resolving a promise.
func TestCorrelationMismatchOverMochi(t *testing.T) {
	startMochiBroker(t, mochiPort+1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverClient := dialPaho(t, ctx, mochiPort+1, "greeter-server")
	clientClient := dialPaho(t, ctx, mochiPort+1, "greeter-client")

	app, err := rpc.NewApplication()
	require.NoError(t, err)

	handler := func(_ context.Context, req *rpc.CommandRequest[greetRequest]) (*rpc.CommandResponse[greetResponse], error) {
		return rpc.Respond(greetResponse{Greeting: "hello " + req.Payload.Name})
	}
	executor, err := rpc.NewCommandExecutor(
		app, serverClient,
		rpc.JSON[greetRequest]{}, rpc.JSON[greetResponse]{},
		"greeter/{executorId}/invoke", handler,
		rpc.WithTopicTokens{"executorId": "greeter-server"},
	)
	require.NoError(t, err)
	defer executor.Close()
	require.NoError(t, executor.Start(ctx))

	invoker, err := rpc.NewCommandInvoker[greetRequest, greetResponse](
		app, clientClient,
		rpc.JSON[greetRequest]{}, rpc.JSON[greetResponse]{},
		"greeter/{executorId}/invoke",
		rpc.WithTopicTokens{"executorId": "greeter-server"},
	)
	require.NoError(t, err)
	defer invoker.Close()
	require.NoError(t, invoker.Start(ctx))

	time.Sleep(100 * time.Millisecond)

	// First, a normal round trip to prove the invoker otherwise works.
	res, err := invoker.Invoke(ctx, greetRequest{Name: "ralph"}, rpc.WithTimeout(5*time.Second))
	require.NoError(t, err)
	require.Equal(t, "hello ralph", res.Payload.Greeting)

	// Now publish a stray response, well-formed but carrying correlation
	// data nothing is waiting on: the invoker's listener must ack and drop
	// it rather than panicking or wedging.
	strayID := uuid.New()
	_, err = serverClient.Publish(ctx, "clients/greeter-client/greeter/greeter-server/invoke", []byte(`{}`),
		pubsub.WithQoS(1),
		pubsub.WithContentType("application/json"),
		pubsub.WithCorrelationData(strayID[:]),
		pubsub.WithUserProperties(map[string]string{constants.ProtocolVersion: "1.0"}),
	)
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
}
