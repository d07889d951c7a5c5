//go:build integration

package busclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	ctx := context.Background()
	client := StartNATSContainer(ctx, t)

	require.True(t, client.IsHealthy())

	received := make(chan []byte, 1)
	require.NoError(t, client.Subscribe(ctx, "test.subject", func(_ context.Context, data []byte) {
		received <- data
	}))

	require.NoError(t, client.Publish(ctx, "test.subject", []byte("hello")))

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(5 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestIntegration_SubscribeInvalidSubject(t *testing.T) {
	ctx := context.Background()
	client := StartNATSContainer(ctx, t)

	err := client.Subscribe(ctx, "bad subject", func(_ context.Context, _ []byte) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)

	err = client.HandleRequests(ctx, "bad subject", func(_ context.Context, _ []byte) []byte { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)
}

func TestIntegration_RequestReply(t *testing.T) {
	ctx := context.Background()
	client := StartNATSContainer(ctx, t)

	require.NoError(t, client.HandleRequests(ctx, "test.requests", func(_ context.Context, data []byte) []byte {
		return append([]byte("echo:"), data...)
	}))

	reply, err := client.Request(ctx, "test.requests", []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", string(reply))
}

func TestIntegration_KeyValueBucket(t *testing.T) {
	ctx := context.Background()
	client := StartNATSContainer(ctx, t)

	bucket, err := client.EnsureKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "test_bucket"})
	require.NoError(t, err)

	// Racing a second Ensure resolves to the same bucket.
	again, err := client.EnsureKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: "test_bucket"})
	require.NoError(t, err)
	require.NotNil(t, again)

	type record struct {
		Name string `json:"name"`
	}
	require.NoError(t, PutJSON(ctx, bucket, "echo", record{Name: "echo"}))

	var got record
	require.NoError(t, GetJSON(ctx, bucket, "echo", &got))
	assert.Equal(t, "echo", got.Name)
}
