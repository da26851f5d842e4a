package smtpserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	smtpcore "github.com/emersion/go-smtp"

	"github.com/vaultsandbox/gateway/internal/config"
	"github.com/vaultsandbox/gateway/internal/gwerrors"
	"github.com/vaultsandbox/gateway/internal/inbox"
	"github.com/vaultsandbox/gateway/internal/metrics"
	"github.com/vaultsandbox/gateway/internal/ratelimit"
)

func newTestBackend(t *testing.T, allowedDomains []string, hardModeCode int) (*Backend, *inbox.MemoryCollaborator) {
	t.Helper()
	coll := inbox.NewMemoryCollaborator()
	cfg := &config.Config{
		SMTP: config.SMTPConfig{
			Host:                    "gateway.example.com",
			AllowedRecipientDomains: allowedDomains,
			MaxMessageSize:          1 << 20,
		},
		Local: config.LocalConfig{HardModeRejectCode: hardModeCode},
	}
	limiter := ratelimit.New(true, 100, time.Minute)
	return &Backend{
		Config:    cfg,
		RateLimit: limiter,
		Inboxes:   coll,
		Metrics:   metrics.Noop{},
		tlsCache:  newTLSInfoCache(),
	}, coll
}

func TestMailRejectsInvalidAddress(t *testing.T) {
	b, _ := newTestBackend(t, []string{"example.com"}, 0)
	s := &Session{backend: b, remoteIP: "1.2.3.4"}
	err := s.Mail("not-an-address", nil)
	require.Error(t, err)
}

func TestMailAcceptsValidSender(t *testing.T) {
	b, _ := newTestBackend(t, []string{"example.com"}, 0)
	s := &Session{backend: b, remoteIP: "1.2.3.4"}
	require.NoError(t, s.Mail("sender@example.org", nil))
	require.Equal(t, "sender@example.org", s.from)
}

func TestMailRejectsWhenHardModeActiveAndNoInboxes(t *testing.T) {
	b, _ := newTestBackend(t, []string{"example.com"}, 550)
	s := &Session{backend: b, remoteIP: "1.2.3.4"}
	err := s.Mail("sender@example.org", nil)
	require.Error(t, err)
}

func TestMailAllowsHardModeOnceInboxExists(t *testing.T) {
	b, coll := newTestBackend(t, []string{"example.com"}, 550)
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	s := &Session{backend: b, remoteIP: "1.2.3.4"}
	require.NoError(t, s.Mail("sender@example.org", nil))
}

func TestMailRateLimited(t *testing.T) {
	b, _ := newTestBackend(t, []string{"example.com"}, 0)
	b.RateLimit = ratelimit.New(true, 1, time.Minute)
	s := &Session{backend: b, remoteIP: "1.2.3.4"}
	require.NoError(t, s.Mail("a@example.org", nil))
	s.Reset()
	err := s.Mail("a@example.org", nil)
	require.Error(t, err)
}

func TestRcptRejectsDisallowedDomain(t *testing.T) {
	b, coll := newTestBackend(t, []string{"example.com"}, 0)
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	s := &Session{backend: b}
	err := s.Rcpt("user@other.org", nil)
	require.Error(t, err)
}

func TestRcptRejectsUnknownInbox(t *testing.T) {
	b, _ := newTestBackend(t, []string{"example.com"}, 0)
	s := &Session{backend: b}
	err := s.Rcpt("nobody@example.com", nil)
	require.Error(t, err)
}

func TestRcptAcceptsKnownInbox(t *testing.T) {
	b, coll := newTestBackend(t, []string{"example.com"}, 0)
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	s := &Session{backend: b}
	require.NoError(t, s.Rcpt("user@example.com", nil))
	require.Equal(t, []string{"user@example.com"}, s.recipients)
}

func TestResetClearsEnvelope(t *testing.T) {
	b, coll := newTestBackend(t, []string{"example.com"}, 0)
	coll.Register("user@example.com", inbox.Inbox{BaseEmail: "user@example.com"})
	s := &Session{backend: b}
	require.NoError(t, s.Mail("sender@example.org", nil))
	require.NoError(t, s.Rcpt("user@example.com", nil))
	s.Reset()
	require.Empty(t, s.from)
	require.Empty(t, s.recipients)
}

func TestDomainAllowed(t *testing.T) {
	require.True(t, domainAllowed("Example.COM", []string{"example.com"}))
	require.False(t, domainAllowed("other.org", []string{"example.com"}))
}

func TestToSMTPErrorMapsKnownKinds(t *testing.T) {
	err := toSMTPError(&gwerrors.DomainNotAllowed{Domain: "other.org"})
	require.Error(t, err)

	err = toSMTPError(&gwerrors.AddressInvalid{Kind: gwerrors.AddressEmpty})
	require.Error(t, err)

	err = toSMTPError(&gwerrors.ChaosSMTP{Code: 550, Enhanced: "5.7.1", Message: "blocked"})
	require.Error(t, err)
}

func TestParseEnhanced(t *testing.T) {
	require.Equal(t, smtpcore.EnhancedCode{5, 7, 1}, parseEnhanced("5.7.1"))
}

func TestTLSVersionName(t *testing.T) {
	require.Equal(t, "TLS1.3", tlsVersionName(0x0304))
	require.Equal(t, "unknown", tlsVersionName(0))
}

func TestTLSInfoCacheSetGetDrop(t *testing.T) {
	c := &tlsInfoCache{entries: make(map[string]tlsCacheEntry)}
	_, ok := c.get("sess-1")
	require.False(t, ok)

	c.set("sess-1", tlsInfo{version: "TLS1.3", cipher: "TLS_AES_256_GCM_SHA384", bits: 256})
	info, ok := c.get("sess-1")
	require.True(t, ok)
	require.Equal(t, "TLS1.3", info.version)

	c.drop("sess-1")
	_, ok = c.get("sess-1")
	require.False(t, ok)
}
