package busclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/WouterBesse/social-interaction-cloud/errors"
)

// JetStream returns the JetStream context, nil-safe after Connect.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection,
			"Client", "JetStream", "get JetStream context")
	}

	return c.js, nil
}

// EnsureKeyValueBucket returns the named KV bucket, creating it when it does
// not exist yet. Concurrent creators racing on the same bucket name resolve
// to the existing bucket.
func (c *Client) EnsureKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if isAlreadyExistsError(err) {
			bucket, err = js.KeyValue(ctx, cfg.Bucket)
			if err != nil {
				return nil, errors.Wrap(err, "Client", "EnsureKeyValueBucket", "access existing bucket")
			}
			return bucket, nil
		}
		c.recordFailure()
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValueBucket", "create bucket")
	}

	c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	return bucket, nil
}

// PutJSON marshals value and stores it in the bucket under key.
func PutJSON(ctx context.Context, bucket jetstream.KeyValue, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(err, "Client", "PutJSON", "marshal value")
	}
	if _, err := bucket.Put(ctx, key, data); err != nil {
		return errors.WrapTransient(err, "Client", "PutJSON", "store value")
	}
	return nil
}

// GetJSON loads the value stored under key into dst.
func GetJSON(ctx context.Context, bucket jetstream.KeyValue, key string, dst any) error {
	entry, err := bucket.Get(ctx, key)
	if err != nil {
		return errors.WrapTransient(err, "Client", "GetJSON", "load value")
	}
	if err := json.Unmarshal(entry.Value(), dst); err != nil {
		return errors.WrapInvalid(err, "Client", "GetJSON", "unmarshal value")
	}
	return nil
}

// isAlreadyExistsError checks if an error indicates a KV bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "bucket name already in use") ||
		strings.Contains(errStr, "already exists") ||
		strings.Contains(errStr, "stream name already in use")
}
