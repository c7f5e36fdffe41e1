package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"liyu1981.xyz/monitoring-mirror-service/pkg/common"
	"liyu1981.xyz/monitoring-mirror-service/pkg/config"
	"liyu1981.xyz/monitoring-mirror-service/pkg/mirror"
	"liyu1981.xyz/monitoring-mirror-service/pkg/models"
)

func sampleRun() mirror.RunResult {
	return mirror.RunResult{
		RunID:         "run-1",
		TenantID:      "tenant-a",
		Mode:          models.SyncModeIncremental,
		StartedAt:     time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		ElapsedMillis: 1500,
		State:         mirror.RunStateFailed,
		FailedStage:   mirror.StageItems,
		Stages: []mirror.StageSummary{
			{Stage: mirror.StageHosts, Batches: 1, Fetched: 3, Counts: models.ReconcileCounts{Created: 3}},
			{Stage: mirror.StageItems, Error: "remote call failed"},
		},
		Error: "remote call failed",
		Err:   errors.New("remote call failed"),
	}
}

func TestPublishRunDeliversResult(t *testing.T) {
	common.SetTestLoggerNop()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	messages, err := pubsub.Subscribe(context.Background(), "mirror.run.completed")
	require.NoError(t, err)

	publisher := New(pubsub, "mirror.run.completed")
	require.NoError(t, publisher.PublishRun(context.Background(), sampleRun()))

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Equal(t, "run-1", msg.UUID)
		assert.Equal(t, "tenant-a", msg.Metadata.Get("tenant_id"))
		assert.Equal(t, "incremental", msg.Metadata.Get("mode"))
		assert.Equal(t, "Failed(items)", msg.Metadata.Get("state"))

		decoded, err := DecodeRun(msg)
		require.NoError(t, err)
		assert.Equal(t, mirror.StageItems, decoded.FailedStage)
		assert.Len(t, decoded.Stages, 2)
		assert.Equal(t, 3, decoded.Stages[0].Counts.Created)
		assert.Nil(t, decoded.Err)

		var raw map[string]any
		require.NoError(t, json.Unmarshal(msg.Payload, &raw))
		assert.Equal(t, float64(1500), raw["elapsed_ms"])
		assert.NotContains(t, raw, "Err")
	case <-time.After(5 * time.Second):
		t.Fatal("run result was not delivered")
	}
}

func TestPublishRunAfterClose(t *testing.T) {
	common.SetTestLoggerNop()

	publisher := New(gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{}), "runs")
	require.NoError(t, publisher.Close())
	require.NoError(t, publisher.Close())

	err := publisher.PublishRun(context.Background(), sampleRun())
	assert.ErrorIs(t, err, ErrPublisherClosed)
}

func TestNewPublisherDefaultsToInProcessChannel(t *testing.T) {
	common.SetTestLoggerNop()

	publisher, err := NewPublisher(config.Default().Notify)
	require.NoError(t, err)
	defer publisher.Close()

	assert.Equal(t, "mirror.run.completed", publisher.Topic())
	assert.IsType(t, &gochannel.GoChannel{}, publisher.publisher)
	// no subscriber yet, the message is dropped without error
	assert.NoError(t, publisher.PublishRun(context.Background(), sampleRun()))
}

func TestZapLoggerAdapterCarriesFields(t *testing.T) {
	var buf = &bytes.Buffer{}
	common.SetTestCaptureLogger(buf, zapcore.DebugLevel)

	adapter := NewZapLoggerAdapter(common.GetLoggerWith(common.LoggerNameNotify)).
		With(watermill.LogFields{"subscriber": "s1"})
	adapter.Info("Subscribed", watermill.LogFields{"topic": "runs"})
	adapter.Error("Publish failed", errors.New("broker down"), nil)
	adapter.Trace("ignored", nil)

	var entries []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var entry map[string]any
		require.NoError(t, dec.Decode(&entry))
		entries = append(entries, entry)
	}
	require.Len(t, entries, 2)
	assert.Equal(t, "notify", entries[0]["logger"])
	assert.Equal(t, "s1", entries[0]["subscriber"])
	assert.Equal(t, "runs", entries[0]["topic"])
	assert.Equal(t, "broker down", entries[1]["error"])
}
