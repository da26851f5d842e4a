package authpipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vaultsandbox/gateway/internal/resolver"
)

func newDisabledPipeline() *Pipeline {
	return New(Config{Enabled: false}, resolver.New())
}

func TestCheckSPFSkippedWhenDisabled(t *testing.T) {
	p := newDisabledPipeline()
	v := p.CheckSPF(context.Background(), true, "192.0.2.1", "example.com", "s@example.com", "sess-1")
	require.Equal(t, SpfSkipped, v.Status)
}

func TestCheckSPFNoneWhenInputsAbsent(t *testing.T) {
	p := New(Config{Enabled: true, SPF: true}, resolver.New())
	v := p.CheckSPF(context.Background(), true, "", "", "", "sess-1")
	require.Equal(t, SpfNone, v.Status)
}

func TestCheckDKIMSkippedWhenDisabled(t *testing.T) {
	p := newDisabledPipeline()
	vs := p.CheckDKIM(context.Background(), true, []byte("From: a@b.com\r\n\r\nbody"), "sess-1")
	require.Len(t, vs, 1)
	require.Equal(t, DkimSkipped, vs[0].Status)
}

func TestCheckDKIMNoneWhenNoSignatures(t *testing.T) {
	p := New(Config{Enabled: true, DKIM: true}, resolver.New())
	vs := p.CheckDKIM(context.Background(), true, []byte("From: a@b.com\r\nTo: c@d.com\r\n\r\nbody"), "sess-1")
	require.Len(t, vs, 1)
	require.Equal(t, DkimNone, vs[0].Status)
}

func TestCheckDMARCSkippedWhenDisabled(t *testing.T) {
	p := newDisabledPipeline()
	v := p.CheckDMARC(context.Background(), true, "Alice <a@example.com>", SPFVerdict{Status: SpfPass}, nil, "sess-1")
	require.Equal(t, DmarcSkipped, v.Status)
}

func TestExtractBareAddress(t *testing.T) {
	require.Equal(t, "alice@example.com", extractBareAddress("Alice Smith <alice@example.com>"))
	require.Equal(t, "alice@example.com", extractBareAddress("alice@example.com"))
}

func TestDomainOf(t *testing.T) {
	require.Equal(t, "example.com", domainOf("alice@example.com"))
	require.Equal(t, "", domainOf("not-an-address"))
}

func TestCheckReverseDNSSkippedWhenDisabled(t *testing.T) {
	p := newDisabledPipeline()
	v := p.CheckReverseDNS(context.Background(), true, "192.0.2.1", "sess-1")
	require.Equal(t, ReverseDNSSkipped, v.Status)
}
