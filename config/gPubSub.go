package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"
)

// PubSubMessage is the payload published on the ledger repair topic and accepted by the
// push endpoint for inbound business events.
type PubSubMessage struct {
	ID            string          `json:"id"`
	ReferenceType string          `json:"reference_type"`
	ReferenceId   string          `json:"reference_id"`
	Action        string          `json:"action"`
	OldObj        json.RawMessage `json:"old_obj,omitempty"`
	NewObj        json.RawMessage `json:"new_obj,omitempty"`
	Error         string          `json:"error,omitempty"`
	CorrelationId string          `json:"correlation_id"`
	PublishedAt   time.Time       `json:"published_at"`
}

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func init() {
	// Load env from .env
	godotenv.Load()
}

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// getPubSubClient returns the shared client, initializing with retries if needed.
// It uses Application Default Credentials unless PUBSUB_CREDENTIALS_JSON is provided.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}
		if attempt >= 5 {
			return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// LedgerRepairTopic returns LEDGER_REPAIR_TOPIC; empty means alerts are not published.
func LedgerRepairTopic() string {
	return os.Getenv("LEDGER_REPAIR_TOPIC")
}

// PublishLedgerMessage publishes msg on topicName and returns the server-assigned message ID.
func PublishLedgerMessage(ctx context.Context, topicName string, msg PubSubMessage) (string, error) {
	if topicName == "" {
		return "", errors.New("topic name is required")
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now().UTC()
	}
	msgJSON, err := json.Marshal(msg)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data: msgJSON,
		Attributes: map[string]string{
			"reference_type": msg.ReferenceType,
			"action":         msg.Action,
		},
	})
	return result.Get(ctx)
}
