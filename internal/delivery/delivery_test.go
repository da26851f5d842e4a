package delivery

import (
	"context"
	"testing"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/stretchr/testify/require"

	"github.com/vaultsandbox/gateway/internal/authpipeline"
	"github.com/vaultsandbox/gateway/internal/chaos"
	"github.com/vaultsandbox/gateway/internal/cryptoengine"
	"github.com/vaultsandbox/gateway/internal/emailstore"
	"github.com/vaultsandbox/gateway/internal/events"
	"github.com/vaultsandbox/gateway/internal/inbox"
	"github.com/vaultsandbox/gateway/internal/metrics"
	"github.com/vaultsandbox/gateway/internal/resolver"
	"github.com/vaultsandbox/gateway/internal/webhook"
)

const rawMessage = "From: sender@example.com\r\nTo: user@example.com\r\nSubject: hello\r\n\r\nbody text\r\n"

func newOrchestrator(t *testing.T, coll *inbox.MemoryCollaborator) *Orchestrator {
	t.Helper()
	store := emailstore.New(coll, 1<<20, 0)
	t.Cleanup(store.Close)

	crypto, err := cryptoengine.New()
	require.NoError(t, err)

	auth := authpipeline.New(authpipeline.Config{Enabled: false}, resolver.New())
	chaosEngine := chaos.New()
	bus := events.New()
	hooks := webhook.New(nil)

	return New(coll, store, crypto, auth, chaosEngine, bus, hooks, metrics.Noop{}, nil, chaos.Config{Enabled: false})
}

func baseSession() SessionInfo {
	return SessionInfo{
		ID:               "sess-1",
		ClientHostname:   "client.example.com",
		RemoteIP:         "192.0.2.10",
		ServerHostname:   "gateway.example.com",
		TransmissionType: "ESMTP",
		SenderEmail:      "sender@example.com",
	}
}

func TestDeliverStoresPlainMessage(t *testing.T) {
	coll := inbox.NewMemoryCollaborator()
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	o := newOrchestrator(t, coll)

	outcome, err := o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{"user@example.com"})
	require.NoError(t, err)
	require.Equal(t, chaos.Continue, outcome)

	msgs := coll.Messages("user@example.com")
	require.Len(t, msgs, 1)
	stored := msgs[0].(emailstore.StoredMessage)
	require.NotNil(t, stored.Plain)
	require.Nil(t, stored.Encrypted)
}

func TestDeliverEncryptsForEncryptedInbox(t *testing.T) {
	clientPub, _, err := mlkem768.GenerateKeyPair(nil)
	require.NoError(t, err)
	pubBytes, err := clientPub.MarshalBinary()
	require.NoError(t, err)

	coll := inbox.NewMemoryCollaborator()
	coll.Register("user@example.com", inbox.Inbox{
		BaseEmail:          "user@example.com",
		Encrypted:          true,
		ClientKemPublicKey: pubBytes,
	})
	o := newOrchestrator(t, coll)

	_, err = o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{"user@example.com"})
	require.NoError(t, err)

	msgs := coll.Messages("user@example.com")
	require.Len(t, msgs, 1)
	stored := msgs[0].(emailstore.StoredMessage)
	require.Nil(t, stored.Plain)
	require.NotNil(t, stored.Encrypted)
	require.NotEmpty(t, stored.Encrypted.Metadata.Ciphertext)
}

func TestDeliverDedupesRecipientsByBaseEmail(t *testing.T) {
	coll := inbox.NewMemoryCollaborator()
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	o := newOrchestrator(t, coll)

	_, err := o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{
		"user@example.com", "user+tag@example.com",
	})
	require.NoError(t, err)
	require.Len(t, coll.Messages("user@example.com"), 1)
}

func TestDeliverSkipsUnknownRecipients(t *testing.T) {
	coll := inbox.NewMemoryCollaborator()
	o := newOrchestrator(t, coll)

	outcome, err := o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{"nobody@example.com"})
	require.NoError(t, err)
	require.Equal(t, chaos.Continue, outcome)
}

func TestDeliverSkipsStorageOnBlackhole(t *testing.T) {
	coll := inbox.NewMemoryCollaborator()
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	o := newOrchestrator(t, coll)
	o.GlobalChaos = chaos.Config{
		Enabled: true,
		Entries: []chaos.Entry{{
			Types:       map[chaos.EvalType]bool{chaos.OnData: true},
			Probability: 1,
			Action:      chaos.Action{Kind: chaos.ActionBlackhole, TriggerWebhooks: false},
		}},
	}

	outcome, err := o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{"user@example.com"})
	require.NoError(t, err)
	require.Equal(t, chaos.ActionBlackhole, outcome.Kind)
	require.Empty(t, coll.Messages("user@example.com"))
}

func TestDeliverPropagatesChaosError(t *testing.T) {
	coll := inbox.NewMemoryCollaborator()
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	o := newOrchestrator(t, coll)
	o.GlobalChaos = chaos.Config{
		Enabled: true,
		Entries: []chaos.Entry{{
			Types:       map[chaos.EvalType]bool{chaos.OnData: true},
			Probability: 1,
			Action:      chaos.Action{Kind: chaos.ActionError, Code: 550, Enhanced: "5.7.1", Message: "rejected"},
		}},
	}

	_, err := o.Deliver(context.Background(), baseSession(), []byte(rawMessage), []string{"user@example.com"})
	require.Error(t, err)
	require.Empty(t, coll.Messages("user@example.com"))
}
