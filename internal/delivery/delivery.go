// Package delivery implements the DATA-phase orchestrator of spec §4.9: it
// takes the raw bytes accepted by an SMTP session, prepends the Received
// header, parses the message, runs the auth pipeline and chaos policy
// against the primary recipient's inbox settings, and — per recipient,
// deduplicated by base email — builds the encrypted-or-plain payload triple
// and hands it to the email store, fanning out bus and webhook
// notifications alongside. It is new wiring code: no single pack repo
// owns this shape, but each step is grounded on the package it calls
// (internal/mimeparse, internal/authpipeline, internal/chaos,
// internal/cryptoengine, internal/emailstore, internal/events,
// internal/webhook), composed the way internal/smtp/server.go's
// verifyMailboxSession composes its own collaborators: one orchestrating
// method, one struct of dependencies, no hidden globals.
package delivery

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vaultsandbox/gateway/internal/authpipeline"
	"github.com/vaultsandbox/gateway/internal/chaos"
	"github.com/vaultsandbox/gateway/internal/cryptoengine"
	"github.com/vaultsandbox/gateway/internal/emailstore"
	"github.com/vaultsandbox/gateway/internal/events"
	"github.com/vaultsandbox/gateway/internal/gwerrors"
	"github.com/vaultsandbox/gateway/internal/manager"
	"github.com/vaultsandbox/gateway/internal/inbox"
	"github.com/vaultsandbox/gateway/internal/ipaddr"
	"github.com/vaultsandbox/gateway/internal/logging"
	"github.com/vaultsandbox/gateway/internal/metrics"
	"github.com/vaultsandbox/gateway/internal/mimeparse"
	"github.com/vaultsandbox/gateway/internal/utils"
	"github.com/vaultsandbox/gateway/internal/webhook"
)

// SpamStatus mirrors vaultsandbox-client-go's spamanalysis status enum, so
// the summary this package builds needs no translation on the client side.
type SpamStatus string

const (
	SpamAnalyzed SpamStatus = "analyzed"
	SpamSkipped  SpamStatus = "skipped"
	SpamError    SpamStatus = "error"
)

// SpamAction mirrors the client's action enum.
type SpamAction string

const (
	SpamActionNone        SpamAction = "no_action"
	SpamActionGreylist    SpamAction = "greylist"
	SpamActionAddHeader   SpamAction = "add_header"
	SpamActionRewriteSubj SpamAction = "rewrite_subject"
	SpamActionSoftReject  SpamAction = "soft_reject"
	SpamActionReject      SpamAction = "reject"
)

// SpamResult is the scanner collaborator's response shape (spec §6).
type SpamResult struct {
	Status           SpamStatus
	Score            *float64
	RequiredScore    *float64
	Action           SpamAction
	IsSpam           bool
	Symbols          []string
	ProcessingTimeMs int64
	Info             string
}

// SpamScanner is the external spam-analysis collaborator spec §6 names.
// Its actual scoring logic is deliberately out of scope (spec §1): the core
// only depends on this contract.
type SpamScanner interface {
	Analyze(ctx context.Context, raw []byte, sessionID string, in *inbox.Inbox) SpamResult
}

// NoopSpamScanner always reports skipped, for gateways run without a spam
// engine configured.
type NoopSpamScanner struct{}

func (NoopSpamScanner) Analyze(context.Context, []byte, string, *inbox.Inbox) SpamResult {
	return SpamResult{Status: SpamSkipped}
}

// SessionInfo carries the per-connection facts the orchestrator needs to
// assemble the Received header and drive auth/chaos evaluation. The SMTP
// session engine populates this from its own state.
type SessionInfo struct {
	ID               string
	ClientHostname   string
	RemoteIP         string
	ServerHostname   string
	TransmissionType string // e.g. "ESMTP" or "ESMTPS"
	TLSVersion       string
	TLSCipher        string
	TLSBits          int
	SenderEmail      string
}

// Orchestrator wires the collaborators spec §4.9 names into one DATA-phase
// pipeline.
type Orchestrator struct {
	Inbox   inbox.Collaborator
	Store   *emailstore.Store
	Crypto  *cryptoengine.Engine
	Auth    *authpipeline.Pipeline
	Chaos   *chaos.Engine
	Events  *events.Bus
	Webhook *webhook.Dispatcher
	Metrics metrics.Collector
	Spam    SpamScanner

	// Manager offloads webhook delivery onto its notify pool so a slow
	// subscriber endpoint never holds up the DATA response. Nil runs
	// webhook delivery inline on the calling goroutine instead.
	Manager *manager.WorkManager

	// GlobalChaos is the fallback chaos config used when a recipient's
	// inbox carries no per-inbox override (spec §4.6).
	GlobalChaos chaos.Config

	now func() time.Time
}

// New constructs an Orchestrator. Spam may be nil, in which case spam
// analysis is always skipped.
func New(coll inbox.Collaborator, store *emailstore.Store, crypto *cryptoengine.Engine, auth *authpipeline.Pipeline, chaosEngine *chaos.Engine, bus *events.Bus, hooks *webhook.Dispatcher, collector metrics.Collector, spam SpamScanner, globalChaos chaos.Config) *Orchestrator {
	if spam == nil {
		spam = NoopSpamScanner{}
	}
	return &Orchestrator{
		Inbox:       coll,
		Store:       store,
		Crypto:      crypto,
		Auth:        auth,
		Chaos:       chaosEngine,
		Events:      bus,
		Webhook:     hooks,
		Metrics:     collector,
		Spam:        spam,
		GlobalChaos: globalChaos,
		now:         time.Now,
	}
}

// buildReceivedHeader assembles the Received header exactly as spec §6
// specifies, to be prepended before parsing and storage.
func buildReceivedHeader(sess SessionInfo, recipient string) []byte {
	with := sess.TransmissionType
	if sess.TLSVersion != "" {
		with += fmt.Sprintf(" (version=%s cipher=%s", sess.TLSVersion, sess.TLSCipher)
		if sess.TLSBits > 0 {
			with += fmt.Sprintf(" bits=%d", sess.TLSBits)
		}
		with += ")"
	}

	header := fmt.Sprintf(
		"Received: from %s (%s [%s])\r\n\tby %s with %s\r\n\tid %s for <%s>;\r\n\t%s\r\n",
		sess.ClientHostname, sess.ClientHostname, sess.RemoteIP,
		sess.ServerHostname, with,
		sess.ID, recipient,
		time.Now().Format(time.RFC1123Z),
	)
	return []byte(header)
}

type recipientContext struct {
	address  string
	inboxKey string
	// hash is the opaque inbox_hash (spec §3) exposed to event
	// subscribers and webhook payloads; inboxKey stays internal to this
	// process's collaborator/store lookups.
	hash  string
	inbox *inbox.Inbox
}

// Deliver implements spec §4.9/§4.7's DATA-phase algorithm: Received-header
// prepend, parse, recipient resolution with I7 dedup, chaos evaluation,
// auth pipeline, spam scan, per-recipient encrypt-or-plain storage, and
// bus/webhook notification. The returned Outcome is Continue, Delay (already
// slept by Deliver, bounded by ctx, before it returns), or Blackhole (no error,
// message accepted and dropped); a non-nil error is either a chaos Error/
// Drop/greylist rejection or a structural failure and should map to the
// session engine's failure-handling table (spec §4.7).
func (o *Orchestrator) Deliver(ctx context.Context, sess SessionInfo, rawBody []byte, recipientAddrs []string) (chaos.Outcome, error) {
	recipients := o.resolveRecipients(recipientAddrs)
	if len(recipients) == 0 {
		return chaos.Continue, nil
	}
	primary := recipients[0]

	raw := append(buildReceivedHeader(sess, primary.address), rawBody...)

	parsed, err := mimeparse.Parse(raw)
	if err != nil || parsed == nil {
		logging.WarnLog("delivery: parse failed session=%s: %v", sess.ID, err)
		parsed = &mimeparse.Parsed{}
	}

	cfg := chaosConfigFor(primary.inbox, o.GlobalChaos)
	outcome, err := o.Chaos.Evaluate(chaos.OnData, cfg, sess.RemoteIP, sess.SenderEmail)
	o.recordChaosMetrics(outcome, err)
	if err != nil {
		return outcome, err
	}

	authEnabled := primary.inbox != nil && primary.inbox.EmailAuthEnabled
	senderDomain := ipaddr.Domain(sess.SenderEmail)
	spfVerdict := o.Auth.CheckSPF(ctx, authEnabled, sess.RemoteIP, senderDomain, sess.SenderEmail, sess.ID)
	dkimVerdicts := o.Auth.CheckDKIM(ctx, authEnabled, raw, sess.ID)
	dmarcVerdict := o.Auth.CheckDMARC(ctx, authEnabled, parsed.From.Text, spfVerdict, dkimVerdicts, sess.ID)
	rdnsVerdict := o.Auth.CheckReverseDNS(ctx, authEnabled, sess.RemoteIP, sess.ID)
	o.recordAuthMetrics(spfVerdict, dkimVerdicts, dmarcVerdict)

	spamResult := SpamResult{Status: SpamSkipped}
	if primary.inbox != nil && primary.inbox.SpamAnalysisEnabled {
		spamResult = o.Spam.Analyze(ctx, raw, sess.ID, primary.inbox)
		o.recordSpamMetrics(spamResult)
	}

	rawB64 := []byte(base64.StdEncoding.EncodeToString(raw))

	for _, recipient := range recipients {
		o.deliverToRecipient(ctx, sess, recipient, parsed, raw, rawB64, spfVerdict, dkimVerdicts, dmarcVerdict, rdnsVerdict, spamResult, outcome)
	}

	if outcome.Kind == chaos.ActionDelay {
		select {
		case <-time.After(time.Duration(outcome.DelayMs) * time.Millisecond):
		case <-ctx.Done():
		}
	}

	return outcome, nil
}

// resolveRecipients deduplicates recipientAddrs by base email (I7) and
// resolves each surviving address to its inbox via the collaborator.
func (o *Orchestrator) resolveRecipients(recipientAddrs []string) []recipientContext {
	seen := make(map[string]bool, len(recipientAddrs))
	recipients := make([]recipientContext, 0, len(recipientAddrs))
	for _, addr := range recipientAddrs {
		key := ipaddr.InboxKey(addr)
		if seen[key] {
			continue
		}
		seen[key] = true

		in, ok := o.Inbox.GetInbox(key)
		if !ok {
			logging.WarnLog("delivery: recipient %s resolved to unknown inbox, skipping", utils.HashEmail(addr))
			continue
		}
		recipients = append(recipients, recipientContext{address: addr, inboxKey: key, hash: ipaddr.InboxHash(key), inbox: in})
	}
	return recipients
}

// notifyWebhook dispatches a webhook notification through the notify pool
// when one is configured, otherwise inline. The pool drops the task rather
// than block the caller if its queue is full, matching Deliver's own
// never-block-the-success-path contract.
func (o *Orchestrator) notifyWebhook(ctx context.Context, topic events.Topic, inboxHash string, payload interface{}) {
	if o.Manager == nil {
		o.Webhook.Deliver(ctx, topic, inboxHash, payload)
		return
	}
	detached := context.WithoutCancel(ctx)
	if err := o.Manager.SubmitNotify(func(context.Context) {
		o.Webhook.Deliver(detached, topic, inboxHash, payload)
	}); err != nil {
		logging.WarnLog("delivery: notify pool full, dropping webhook topic=%s inbox=%s: %v", topic, inboxHash, err)
	}
}

func chaosConfigFor(in *inbox.Inbox, global chaos.Config) chaos.Config {
	if in == nil || in.Chaos == nil {
		return global
	}
	entries, ok := in.Chaos.Entries.([]chaos.Entry)
	if !ok {
		return global
	}
	return chaos.Config{Enabled: true, Entries: entries}
}

// emailMetadata is the metadata record spec §4.9 step 2 names.
type emailMetadata struct {
	ID         string    `json:"id"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// authResultsBlock mirrors vaultsandbox-client-go's authresults DTO.
type authResultsBlock struct {
	SPF        authpipeline.SPFVerdict        `json:"spf"`
	DKIM       []authpipeline.DKIMVerdict     `json:"dkim"`
	DMARC      authpipeline.DMARCVerdict      `json:"dmarc"`
	ReverseDNS authpipeline.ReverseDNSVerdict `json:"reverse_dns"`
}

// parsedPayload is the parsed payload spec §4.9 step 3 names.
type parsedPayload struct {
	From         mimeparse.AddressBlock `json:"from"`
	To           mimeparse.AddressBlock `json:"to"`
	Cc           mimeparse.AddressBlock `json:"cc"`
	ReplyTo      mimeparse.AddressBlock `json:"reply_to"`
	Subject      string                 `json:"subject"`
	MessageID    string                 `json:"message_id"`
	Text         string                 `json:"text"`
	HTML         string                 `json:"html"`
	Links        []string               `json:"links"`
	Attachments  []attachmentMeta       `json:"attachments"`
	AuthResults  authResultsBlock       `json:"auth_results"`
	SpamAnalysis *SpamResult            `json:"spam_analysis,omitempty"`
}

type attachmentMeta struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
	Checksum    string `json:"checksum"`
	CID         string `json:"cid,omitempty"`
	Disposition string `json:"disposition"`
	ContentB64  string `json:"content_b64"`
}

func buildAttachmentMetas(atts []mimeparse.Attachment) []attachmentMeta {
	out := make([]attachmentMeta, 0, len(atts))
	for _, a := range atts {
		out = append(out, attachmentMeta{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
			Checksum:    a.Checksum,
			CID:         a.CID,
			Disposition: a.Disposition,
			ContentB64:  base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	return out
}

// deliverToRecipient runs spec §4.9 steps 1-8 for one resolved recipient.
func (o *Orchestrator) deliverToRecipient(
	ctx context.Context,
	sess SessionInfo,
	recipient recipientContext,
	parsed *mimeparse.Parsed,
	raw []byte,
	rawB64 []byte,
	spf authpipeline.SPFVerdict,
	dkim []authpipeline.DKIMVerdict,
	dmarc authpipeline.DMARCVerdict,
	rdns authpipeline.ReverseDNSVerdict,
	spam SpamResult,
	outcome chaos.Outcome,
) {
	if outcome.Kind == chaos.ActionBlackhole {
		if outcome.TriggerWebhooks {
			o.notifyWebhook(ctx, events.TopicEmailReceived, recipient.hash, o.buildSummary(recipient, parsed, spf, dkim, dmarc, rdns, spam))
		}
		return
	}

	messageID := uuid.New().String()
	subject := parsed.Subject
	if subject == "" {
		subject = "(no subject)"
	}

	metadata := emailMetadata{
		ID:         messageID,
		From:       sess.SenderEmail,
		To:         recipient.address,
		Subject:    subject,
		ReceivedAt: o.now(),
	}
	payload := parsedPayload{
		From:        parsed.From,
		To:          parsed.To,
		Cc:          parsed.Cc,
		ReplyTo:     parsed.ReplyTo,
		Subject:     subject,
		MessageID:   parsed.MessageID,
		Text:        parsed.Text,
		HTML:        parsed.HTML,
		Links:       extractLinks(parsed),
		Attachments: buildAttachmentMetas(parsed.Attachments),
		AuthResults: authResultsBlock{SPF: spf, DKIM: dkim, DMARC: dmarc, ReverseDNS: rdns},
	}
	if spam.Status != SpamSkipped {
		s := spam
		payload.SpamAnalysis = &s
	}

	metadataBytes, err := json.Marshal(metadata)
	if err != nil {
		logging.ErrorLog("delivery: marshal metadata failed session=%s: %v", sess.ID, err)
		return
	}
	parsedBytes, err := json.Marshal(payload)
	if err != nil {
		logging.ErrorLog("delivery: marshal parsed payload failed session=%s: %v", sess.ID, err)
		return
	}

	message, newEmailPayload, err := o.buildStoredMessage(recipient, messageID, metadataBytes, parsedBytes, rawB64)
	if err != nil {
		logging.ErrorLog("delivery: build stored message failed inbox=%s: %v", recipient.hash, err)
		return
	}

	if err := o.Store.Store(recipient.inboxKey, message); err != nil {
		logging.WarnLog("delivery: store failed inbox=%s: %v", recipient.hash, err)
		return
	}
	o.Metrics.StorageSnapshot(toStorageGauges(o.Store.Snapshot()))

	o.Events.Emit(events.TopicEmailNew, recipient.hash, newEmailPayload)
	o.Events.Emit(events.TopicEmailStored, recipient.hash, map[string]string{
		"email_id":    messageID,
		"inbox_hash":  recipient.hash,
		"inbox_email": recipient.address,
	})
	o.notifyWebhook(ctx, events.TopicEmailReceived, recipient.hash, o.buildSummary(recipient, parsed, spf, dkim, dmarc, rdns, spam))
}

// buildStoredMessage implements spec §4.9 steps 6/7: encrypted or plain
// variant depending on the recipient inbox's mode, plus the new-email event
// payload that accompanies it.
func (o *Orchestrator) buildStoredMessage(recipient recipientContext, messageID string, metadataBytes, parsedBytes, rawB64 []byte) (emailstore.StoredMessage, interface{}, error) {
	if recipient.inbox != nil && recipient.inbox.Encrypted {
		encMeta, err := o.Crypto.EncryptForClient(recipient.inbox.ClientKemPublicKey, metadataBytes, []byte("vaultsandbox:metadata"))
		if err != nil {
			return emailstore.StoredMessage{}, nil, fmt.Errorf("encrypt metadata: %w", err)
		}
		encParsed, err := o.Crypto.EncryptForClient(recipient.inbox.ClientKemPublicKey, parsedBytes, []byte("vaultsandbox:parsed"))
		if err != nil {
			return emailstore.StoredMessage{}, nil, fmt.Errorf("encrypt parsed: %w", err)
		}
		encRaw, err := o.Crypto.EncryptForClient(recipient.inbox.ClientKemPublicKey, rawB64, []byte("vaultsandbox:raw"))
		if err != nil {
			return emailstore.StoredMessage{}, nil, fmt.Errorf("encrypt raw: %w", err)
		}

		message := emailstore.StoredMessage{
			ID: messageID,
			Encrypted: &emailstore.EncryptedPayload{
				Metadata: toStoreBlob(encMeta),
				Parsed:   toStoreBlob(encParsed),
				Raw:      toStoreBlob(encRaw),
			},
		}
		return message, map[string]interface{}{
			"inbox_hash":         recipient.hash,
			"email_id":           messageID,
			"encrypted_metadata": encMeta.ToWire(),
		}, nil
	}

	message := emailstore.StoredMessage{
		ID: messageID,
		Plain: &emailstore.PlainPayload{
			MetadataBytes: metadataBytes,
			ParsedBytes:   parsedBytes,
			RawBytes:      rawB64,
		},
	}
	return message, map[string]interface{}{
		"inbox_hash":   recipient.hash,
		"email_id":     messageID,
		"metadata_b64": base64.StdEncoding.EncodeToString(metadataBytes),
	}, nil
}

func toStoreBlob(b *cryptoengine.EncryptedBlob) emailstore.EncryptedBlob {
	return emailstore.EncryptedBlob{
		CtKem:       b.CtKem,
		Nonce:       b.Nonce,
		AAD:         b.AAD,
		Ciphertext:  b.Ciphertext,
		Sig:         b.Sig,
		ServerSigPk: b.ServerSigPk,
	}
}

func toStorageGauges(s emailstore.Snapshot) metrics.StorageGauges {
	return metrics.StorageGauges{
		ConfiguredMemoryBytes: s.ConfiguredMemoryBytes,
		UsedMemoryBytes:       s.UsedMemoryBytes,
		UtilizationPercent:    s.UtilizationPercent,
		TotalStored:           s.TotalStored,
		TotalEvicted:          s.TotalEvicted,
		TombstoneCount:        s.TombstoneCount,
		OldestAgeMs:           s.OldestAgeMs,
		NewestAgeMs:           s.NewestAgeMs,
		MaxAgeMs:              s.MaxAgeMs,
	}
}

type emailSummary struct {
	From        string                 `json:"from"`
	To          mimeparse.AddressBlock `json:"to"`
	Cc          mimeparse.AddressBlock `json:"cc"`
	Subject     string                 `json:"subject"`
	Text        string                 `json:"text"`
	HTML        string                 `json:"html"`
	Attachments []attachmentSummary    `json:"attachments"`
	AuthResults authResultsBlock       `json:"auth_results"`
}

type attachmentSummary struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

func (o *Orchestrator) buildSummary(recipient recipientContext, parsed *mimeparse.Parsed, spf authpipeline.SPFVerdict, dkim []authpipeline.DKIMVerdict, dmarc authpipeline.DMARCVerdict, rdns authpipeline.ReverseDNSVerdict, spam SpamResult) emailSummary {
	atts := make([]attachmentSummary, 0, len(parsed.Attachments))
	for _, a := range parsed.Attachments {
		atts = append(atts, attachmentSummary{Filename: a.Filename, ContentType: a.ContentType, Size: a.Size})
	}
	return emailSummary{
		From:        parsed.From.Text,
		To:          parsed.To,
		Cc:          parsed.Cc,
		Subject:     parsed.Subject,
		Text:        parsed.Text,
		HTML:        parsed.HTML,
		Attachments: atts,
		AuthResults: authResultsBlock{SPF: spf, DKIM: dkim, DMARC: dmarc, ReverseDNS: rdns},
	}
}

func (o *Orchestrator) recordAuthMetrics(spf authpipeline.SPFVerdict, dkim []authpipeline.DKIMVerdict, dmarc authpipeline.DMARCVerdict) {
	o.Metrics.AuthResult("spf", string(spf.Status))
	for _, d := range dkim {
		o.Metrics.AuthResult("dkim", string(d.Status))
	}
	o.Metrics.AuthResult("dmarc", string(dmarc.Status))
}

func (o *Orchestrator) recordSpamMetrics(r SpamResult) {
	switch r.Status {
	case SpamAnalyzed:
		o.Metrics.SpamAnalyzed()
		if r.IsSpam {
			o.Metrics.SpamDetected()
		}
	case SpamError:
		o.Metrics.SpamError()
	default:
		o.Metrics.SpamSkipped()
	}
	if r.ProcessingTimeMs > 0 {
		o.Metrics.SpamProcessingTime(time.Duration(r.ProcessingTimeMs) * time.Millisecond)
	}
}

func (o *Orchestrator) recordChaosMetrics(outcome chaos.Outcome, err error) {
	if err == nil {
		switch outcome.Kind {
		case chaos.ActionDelay:
			o.Metrics.ChaosEvent()
			o.Metrics.ChaosLatencyInjected(time.Duration(outcome.DelayMs) * time.Millisecond)
		case chaos.ActionBlackhole:
			o.Metrics.ChaosEvent()
			o.Metrics.ChaosBlackhole()
		}
		return
	}

	o.Metrics.ChaosEvent()
	switch e := err.(type) {
	case *gwerrors.ChaosSMTP:
		if e.Greylist {
			o.Metrics.ChaosGreylistRejection()
		} else {
			o.Metrics.ChaosErrorReturned()
		}
	case *gwerrors.ChaosDrop:
		o.Metrics.ChaosConnectionDropped()
	}
}

// extractLinks scans the parsed html/text bodies for links (spec §4.9
// step 3's "link list").
func extractLinks(p *mimeparse.Parsed) []string {
	return mimeparse.ExtractURLs(p.HTML, p.Text)
}
