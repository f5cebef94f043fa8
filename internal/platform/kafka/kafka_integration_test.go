//go:build integration

package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	"expedients/internal/platform/config"
	"expedients/pkg/testutil/containers"
)

func TestEnsureTopicAndProduce(t *testing.T) {
	broker := containers.NewKafkaContainer(t).Broker
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cl, err := NewClient(ctx, config.KafkaConfig{Brokers: []string{broker}, Topic: "expedient-events"})
	require.NoError(t, err)
	t.Cleanup(cl.Close)

	require.NoError(t, EnsureTopic(ctx, cl, "expedient-events", 1, 1))
	require.NoError(t, EnsureTopic(ctx, cl, "expedient-events", 1, 1), "second call is a no-op")

	topics, err := kadm.NewClient(cl).ListTopics(ctx, "expedient-events")
	require.NoError(t, err)
	detail, ok := topics["expedient-events"]
	require.True(t, ok)
	assert.NoError(t, detail.Err)

	res := cl.ProduceSync(ctx, &kgo.Record{Key: []byte("exp-1"), Value: []byte(`{}`)})
	assert.NoError(t, res.FirstErr())
}

func TestNewClientWithoutBrokers(t *testing.T) {
	cl, err := NewClient(context.Background(), config.KafkaConfig{})
	require.NoError(t, err)
	assert.Nil(t, cl)
}
