package recon

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/regsync_backend/config"
	"bitbucket.org/mmdatafocus/regsync_backend/models"
	"bitbucket.org/mmdatafocus/regsync_backend/utils"
	"cloud.google.com/go/pubsub"
	"github.com/gin-gonic/gin"
)

// SyncPubSubPayload carries everything a push-delivered run needs; the
// durable sync_runs row is looked up by session id on the receiving side.
type SyncPubSubPayload struct {
	SessionId string      `json:"sessionId"`
	Options   SyncOptions `json:"options"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data"`
		Attributes map[string]string `json:"attributes"`
		MessageId  string            `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// PublishSyncRun queues an already registered run for execution on the
// push worker instead of the triggering process.
func PublishSyncRun(ctx context.Context, sessionId string, opts SyncOptions) error {
	topicName := strings.TrimSpace(os.Getenv("RECON_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "recon-sync"
	}

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topic := client.Topic(topicName)
	if utils.BoolFromEnv("RECON_SYNC_CREATE_TOPIC", false) {
		topic, err = config.CreateTopicIfNotExists(client, topicName)
		if err != nil {
			return err
		}
	}

	payload := SyncPubSubPayload{SessionId: sessionId, Options: opts}
	data, _ := json.Marshal(payload)
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	_, err = res.Get(ctx)
	return err
}

// PubSubPushHandler accepts pub/sub push deliveries. Always 204: a retry
// for a finished run is a no-op in RunSync, and malformed envelopes are
// dropped rather than redelivered forever.
func PubSubPushHandler(source RemoteSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !utils.BoolFromEnv("ENABLE_RECON_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}
		if source == nil {
			// Nack so the subscription retries once the client is configured.
			c.Status(503)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}

		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}

		var payload SyncPubSubPayload
		if err := json.Unmarshal(envelope.Message.Data, &payload); err != nil {
			c.Status(204)
			return
		}
		if strings.TrimSpace(payload.SessionId) == "" {
			c.Status(204)
			return
		}

		ctx := utils.SetSessionIdInContext(c.Request.Context(), payload.SessionId)
		ctx = utils.SetTriggeredByInContext(ctx, models.SyncTriggeredPubSub)
		orchestrator := NewOrchestrator(config.GetDB(), source)
		_ = orchestrator.RunSync(ctx, payload.SessionId, payload.Options)
		c.Status(204)
	}
}
