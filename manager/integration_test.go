//go:build integration

package manager

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WouterBesse/social-interaction-cloud/busclient"
	"github.com/WouterBesse/social-interaction-cloud/component"
	"github.com/WouterBesse/social-interaction-cloud/components/echo"
	"github.com/WouterBesse/social-interaction-cloud/message"
)

// TestIntegration_StartStopOverBus drives a manager through a real broker:
// start the echo component, exercise its loop, then stop the manager, all
// via request/reply on the device's request subject.
func TestIntegration_StartStopOverBus(t *testing.T) {
	ctx := context.Background()
	client := busclient.StartNATSContainer(ctx, t)

	registry := component.NewRegistry()
	require.NoError(t, registry.Register(echo.NewClass(client.Conn())))

	m, err := New(registry, client, testDevice, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)

	serveDone := make(chan error, 1)
	go func() { serveDone <- m.Serve(ctx) }()
	require.Eventually(t, func() bool {
		return m.State() == component.StateServing
	}, 5*time.Second, 10*time.Millisecond)

	subject := component.RequestSubject(testDevice)

	// Start the echo component.
	startEnv, err := message.NewEnvelope(message.KindStartRequest, "integration-test",
		&message.StartComponentRequest{ComponentName: echo.ClassName})
	require.NoError(t, err)
	data, err := startEnv.Encode()
	require.NoError(t, err)

	replyData, err := client.Request(ctx, subject, data)
	require.NoError(t, err)
	reply, err := message.Decode(replyData)
	require.NoError(t, err)
	require.Equal(t, message.KindStarted, reply.Kind)
	assert.Equal(t, startEnv.ID, reply.RequestID)

	var info message.StartedComponentInformation
	require.NoError(t, reply.DecodePayload(message.KindStarted, &info))
	assert.Equal(t, component.OutputChannel(echo.ClassName, testDevice), info.OutputChannel)

	// The echo loop works: publish on its input, receive on its output.
	received := make(chan []byte, 1)
	require.NoError(t, client.Subscribe(ctx, info.OutputChannel, func(_ context.Context, msg []byte) {
		select {
		case received <- msg:
		default:
		}
	}))

	input := echo.DefaultInputChannel(info.OutputChannel)
	require.Eventually(t, func() bool {
		require.NoError(t, client.Publish(ctx, input, []byte("hello")))
		select {
		case msg := <-received:
			return string(msg) == "hello"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	// Stop the manager over the bus.
	stopEnv, err := message.NewEnvelope(message.KindStopRequest, "integration-test", &message.StopRequest{})
	require.NoError(t, err)
	stopData, err := stopEnv.Encode()
	require.NoError(t, err)

	stopReplyData, err := client.Request(ctx, subject, stopData)
	require.NoError(t, err)
	stopReply, err := message.Decode(stopReplyData)
	require.NoError(t, err)
	assert.Equal(t, message.KindSuccess, stopReply.Kind)

	select {
	case err := <-serveDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after stop request")
	}
	assert.Equal(t, component.StateStopped, m.State())
}

// TestIntegration_ActiveRecordInKV verifies the best-effort discovery
// registry: a started instance appears in the KV bucket.
func TestIntegration_ActiveRecordInKV(t *testing.T) {
	ctx := context.Background()
	client := busclient.StartNATSContainer(ctx, t)

	bucket, err := client.EnsureKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  "sic_active_components",
		History: 1,
	})
	require.NoError(t, err)

	registry := component.NewRegistry()
	require.NoError(t, registry.Register(echo.NewClass(client.Conn())))

	m, err := New(registry, client, testDevice, WithKVBucket(bucket))
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	reply := decodeReply(t, m.HandleRequest(ctx, startEnvelope(t, echo.ClassName)))
	require.Equal(t, message.KindStarted, reply.Kind)

	var rec activeRecord
	require.NoError(t, busclient.GetJSON(ctx, bucket, "10-0-0-5.echo", &rec))
	assert.Equal(t, echo.ClassName, rec.ClassName)
	assert.Equal(t, testDevice, rec.Device)
	assert.Equal(t, component.OutputChannel(echo.ClassName, testDevice), rec.OutputChannel)
}
