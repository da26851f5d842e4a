// Package webhook delivers signed event notifications to subscriber
// endpoints. The envelope shape (topic, payload, timestamp, HMAC signature
// header) follows the contract vaultsandbox-client-go/webhook.go expects
// from its WebhookEventType consumers; the HMAC-SHA256 signing itself is
// grounded on bdobrica-Ruriko/internal/ruriko/webhook/proxy.go's
// validateHMAC (same construction, inverted: there the proxy verifies an
// inbound signature, here the dispatcher produces one). Delivery failures
// are logged and swallowed rather than propagated, per
// bdobrica-Ruriko/internal/ruriko/audit/notifier.go's Notify contract.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/vaultsandbox/gateway/internal/events"
	"github.com/vaultsandbox/gateway/internal/logging"
)

// Topic mirrors events.Topic; kept distinct so the webhook package does not
// need to accept arbitrary event-bus internals as its public contract.
type Topic = events.Topic

// Envelope is the signed body posted to subscriber endpoints.
type Envelope struct {
	Topic     Topic       `json:"topic"`
	InboxHash string      `json:"inboxHash,omitempty"`
	Payload   interface{} `json:"payload"`
	Timestamp int64       `json:"timestamp"`
}

// Subscription is a single configured delivery target.
type Subscription struct {
	URL    string
	Secret string
	Topics map[Topic]bool
}

// matches reports whether sub wants deliveries for topic. An empty Topics
// set subscribes to everything.
func (sub Subscription) matches(topic Topic) bool {
	if len(sub.Topics) == 0 {
		return true
	}
	return sub.Topics[topic]
}

const (
	defaultTimeout  = 10 * time.Second
	signatureHeader = "X-Gateway-Signature-256"
	signaturePrefix = "sha256="
)

// Dispatcher signs and POSTs event envelopes to configured subscriptions.
type Dispatcher struct {
	subs       []Subscription
	httpClient *http.Client
	now        func() time.Time
}

// New creates a Dispatcher for the given subscriptions.
func New(subs []Subscription) *Dispatcher {
	return &Dispatcher{
		subs:       subs,
		httpClient: &http.Client{Timeout: defaultTimeout},
		now:        time.Now,
	}
}

// Deliver builds an envelope for topic/payload and posts it to each
// matching subscription in turn, returning once every post has finished;
// every delivery failure is logged at warn and never returned, matching spec §7's propagation policy for webhook
// delivery.
func (d *Dispatcher) Deliver(ctx context.Context, topic Topic, inboxHash string, payload interface{}) {
	envelope := Envelope{
		Topic:     topic,
		InboxHash: inboxHash,
		Payload:   payload,
		Timestamp: d.now().UnixMilli(),
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		logging.WarnLog("webhook: failed to marshal envelope topic=%s: %v", topic, err)
		return
	}

	for _, sub := range d.subs {
		if !sub.matches(topic) {
			continue
		}
		if err := d.send(ctx, sub, body); err != nil {
			logging.WarnLog("webhook: delivery failed url=%s topic=%s: %v", sub.URL, topic, err)
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, sub Subscription, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(signatureHeader, signaturePrefix+sign(sub.Secret, body))
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("subscriber returned status %d", resp.StatusCode)
	}
	return nil
}

// sign computes the hex-encoded HMAC-SHA256 of body keyed by secret, the
// same construction bdobrica-Ruriko's proxy validates on the receiving end.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a received X-Gateway-Signature-256 header against body
// using secret, for test fixtures and any future inbound-delivery tooling.
func Verify(secret string, body []byte, header string) bool {
	if len(header) <= len(signaturePrefix) || header[:len(signaturePrefix)] != signaturePrefix {
		return false
	}
	provided, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, provided)
}
