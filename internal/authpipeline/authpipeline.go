// Package authpipeline runs SPF, DKIM, DMARC, and reverse-DNS checks and
// normalizes their results to the status enums of spec §3/§4.4. It is
// grounded on the teacher's internal/smtp/{spf,dkim}.go (status-enum
// translation pattern) and on the SPF+DKIM+DMARC wiring in
// other_examples/e9524158_Gjergj-tmpemail's validateEmailAuth, extended
// with a standalone reverse-DNS check and full status normalization.
package authpipeline

import (
	"bytes"
	"context"
	"net"
	"strings"

	"blitiri.com.ar/go/spf"
	"github.com/emersion/go-msgauth/dkim"
	"github.com/emersion/go-msgauth/dmarc"

	"github.com/vaultsandbox/gateway/internal/logging"
	"github.com/vaultsandbox/gateway/internal/resolver"
)

type SpfStatus string

const (
	SpfPass       SpfStatus = "pass"
	SpfFail       SpfStatus = "fail"
	SpfSoftfail   SpfStatus = "softfail"
	SpfNeutral    SpfStatus = "neutral"
	SpfNone       SpfStatus = "none"
	SpfTemperror  SpfStatus = "temperror"
	SpfPermerror  SpfStatus = "permerror"
	SpfSkipped    SpfStatus = "skipped"
)

type DkimStatus string

const (
	DkimPass    DkimStatus = "pass"
	DkimFail    DkimStatus = "fail"
	DkimNone    DkimStatus = "none"
	DkimSkipped DkimStatus = "skipped"
)

type DmarcStatus string

const (
	DmarcPass    DmarcStatus = "pass"
	DmarcFail    DmarcStatus = "fail"
	DmarcNone    DmarcStatus = "none"
	DmarcSkipped DmarcStatus = "skipped"
)

type ReverseDNSStatus string

const (
	ReverseDNSPass    ReverseDNSStatus = "pass"
	ReverseDNSFail    ReverseDNSStatus = "fail"
	ReverseDNSNone    ReverseDNSStatus = "none"
	ReverseDNSSkipped ReverseDNSStatus = "skipped"
)

type SPFVerdict struct {
	Status SpfStatus
	Domain string
	IP     string
	Info   string
}

type DKIMVerdict struct {
	Status   DkimStatus
	Domain   string
	Selector string
	Info     string
}

type DMARCPolicy string

const (
	DMARCPolicyNone       DMARCPolicy = "none"
	DMARCPolicyQuarantine DMARCPolicy = "quarantine"
	DMARCPolicyReject     DMARCPolicy = "reject"
)

type DMARCVerdict struct {
	Status  DmarcStatus
	Policy  DMARCPolicy
	Aligned bool
	Domain  string
	Info    string
}

type ReverseDNSVerdict struct {
	Status   ReverseDNSStatus
	IP       string
	Hostname string
	Info     string
}

// Config toggles each check; Enabled gates the whole pipeline and the
// per-inbox email_auth_enabled toggle (spec §3 Inbox) gates it again at
// the call site.
type Config struct {
	Enabled    bool
	SPF        bool
	DKIM       bool
	DMARC      bool
	ReverseDNS bool
}

type Pipeline struct {
	cfg Config
	dns *resolver.Resolver
}

func New(cfg Config, dns *resolver.Resolver) *Pipeline {
	return &Pipeline{cfg: cfg, dns: dns}
}

// enabled reports whether the pipeline runs at all for this inbox.
func (p *Pipeline) enabled(inboxAuthEnabled bool) bool {
	return p.cfg.Enabled && inboxAuthEnabled
}

// CheckSPF evaluates spec §4.4's SPF rule.
func (p *Pipeline) CheckSPF(ctx context.Context, inboxAuthEnabled bool, senderIP, senderDomain, senderEmail, sessionID string) SPFVerdict {
	if !p.enabled(inboxAuthEnabled) || !p.cfg.SPF {
		return SPFVerdict{Status: SpfSkipped, Info: "SPF check skipped"}
	}
	if senderDomain == "" || senderIP == "" {
		return SPFVerdict{Status: SpfNone, Domain: senderDomain, IP: senderIP, Info: "SPF check skipped"}
	}
	ip := net.ParseIP(senderIP)
	if ip == nil {
		return SPFVerdict{Status: SpfNone, Domain: senderDomain, IP: senderIP, Info: "SPF check skipped"}
	}

	result, err := spf.CheckHostWithSender(ip, senderDomain, senderEmail)
	status := normalizeSPF(result)
	info := string(status)
	if err != nil {
		logging.WarnLog("spf check error session=%s domain=%s: %v", sessionID, senderDomain, err)
		info = err.Error()
	} else {
		logging.InfoLog("spf check session=%s domain=%s result=%s", sessionID, senderDomain, status)
	}
	return SPFVerdict{Status: status, Domain: senderDomain, IP: senderIP, Info: info}
}

func normalizeSPF(r spf.Result) SpfStatus {
	switch r {
	case spf.Pass:
		return SpfPass
	case spf.Fail:
		return SpfFail
	case spf.SoftFail:
		return SpfSoftfail
	case spf.Neutral:
		return SpfNeutral
	case spf.TempError:
		return SpfTemperror
	case spf.PermError:
		return SpfPermerror
	default:
		return SpfNone
	}
}

// CheckDKIM evaluates spec §4.4's DKIM rule, producing one verdict per
// DKIM-Signature header.
func (p *Pipeline) CheckDKIM(ctx context.Context, inboxAuthEnabled bool, rawMessage []byte, sessionID string) []DKIMVerdict {
	if !p.enabled(inboxAuthEnabled) || !p.cfg.DKIM {
		return []DKIMVerdict{{Status: DkimSkipped, Info: "DKIM check skipped"}}
	}

	verifications, err := dkim.Verify(bytes.NewReader(rawMessage))
	if err != nil {
		logging.WarnLog("dkim verify error session=%s: %v", sessionID, err)
		return []DKIMVerdict{{Status: DkimNone, Info: err.Error()}}
	}
	if len(verifications) == 0 {
		return []DKIMVerdict{{Status: DkimNone, Info: "No DKIM signatures found in email"}}
	}

	verdicts := make([]DKIMVerdict, 0, len(verifications))
	for _, v := range verifications {
		status := DkimPass
		info := ""
		if v.Err != nil {
			status = DkimFail
			info = v.Err.Error()
		}
		logging.InfoLog("dkim check session=%s domain=%s result=%s", sessionID, v.Domain, status)
		verdicts = append(verdicts, DKIMVerdict{
			Status:   status,
			Domain:   v.Domain,
			Selector: v.Identifier,
			Info:     info,
		})
	}
	return verdicts
}

// CheckDMARC evaluates spec §4.4's DMARC rule.
func (p *Pipeline) CheckDMARC(ctx context.Context, inboxAuthEnabled bool, fromHeader string, spfVerdict SPFVerdict, dkimVerdicts []DKIMVerdict, sessionID string) DMARCVerdict {
	if !p.enabled(inboxAuthEnabled) || !p.cfg.DMARC {
		return DMARCVerdict{Status: DmarcSkipped, Info: "DMARC check skipped"}
	}

	fromAddr := extractBareAddress(fromHeader)
	domain := domainOf(fromAddr)
	if domain == "" {
		return DMARCVerdict{Status: DmarcNone, Info: "No From domain to evaluate"}
	}

	record, err := dmarc.Lookup(domain)
	if err != nil {
		if err == dmarc.ErrNoPolicy {
			return DMARCVerdict{Status: DmarcNone, Domain: domain, Info: "No DMARC policy published"}
		}
		logging.WarnLog("dmarc lookup error session=%s domain=%s: %v", sessionID, domain, err)
		return DMARCVerdict{Status: DmarcFail, Domain: domain, Info: "Unable to evaluate DMARC policy"}
	}

	spfAligned := spfVerdict.Status == SpfPass
	dkimAligned := false
	for _, d := range dkimVerdicts {
		if d.Status == DkimPass {
			dkimAligned = true
			break
		}
	}
	aligned := spfAligned || dkimAligned

	status := DmarcFail
	if aligned {
		status = DmarcPass
	}

	policy := DMARCPolicy(record.Policy)
	logging.InfoLog("dmarc check session=%s domain=%s result=%s policy=%s", sessionID, domain, status, policy)
	return DMARCVerdict{Status: status, Policy: policy, Aligned: aligned, Domain: domain}
}

func extractBareAddress(header string) string {
	header = strings.TrimSpace(header)
	if start := strings.IndexByte(header, '<'); start != -1 {
		if end := strings.IndexByte(header[start:], '>'); end != -1 {
			return strings.TrimSpace(header[start+1 : start+end])
		}
	}
	return header
}

func domainOf(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at == -1 {
		return ""
	}
	return strings.ToLower(addr[at+1:])
}

// CheckReverseDNS evaluates spec §4.4's reverse-DNS rule.
func (p *Pipeline) CheckReverseDNS(ctx context.Context, inboxAuthEnabled bool, remoteIP, sessionID string) ReverseDNSVerdict {
	if !p.enabled(inboxAuthEnabled) || !p.cfg.ReverseDNS {
		return ReverseDNSVerdict{Status: ReverseDNSSkipped, Info: "Reverse DNS check skipped"}
	}

	hostnames, err := p.dns.LookupPTR(ctx, remoteIP)
	if err != nil {
		if err == resolver.ErrTimeout {
			return ReverseDNSVerdict{Status: ReverseDNSFail, IP: remoteIP, Info: "DNS lookup timed out"}
		}
		if resolver.IsNotFound(err) {
			return ReverseDNSVerdict{Status: ReverseDNSFail, IP: remoteIP, Info: "No PTR record found"}
		}
		return ReverseDNSVerdict{Status: ReverseDNSFail, IP: remoteIP, Info: err.Error()}
	}
	if len(hostnames) == 0 {
		return ReverseDNSVerdict{Status: ReverseDNSFail, IP: remoteIP, Info: "No PTR record found"}
	}

	firstHostname := hostnames[0]
	for _, hostname := range hostnames {
		addrs, err := p.dns.LookupHost(ctx, hostname)
		if err != nil {
			logging.WarnLog("reverse dns forward lookup failed session=%s hostname=%s: %v", sessionID, hostname, err)
			continue
		}
		for _, addr := range addrs {
			if addr == remoteIP {
				return ReverseDNSVerdict{Status: ReverseDNSPass, IP: remoteIP, Hostname: hostname}
			}
		}
	}
	return ReverseDNSVerdict{Status: ReverseDNSFail, IP: remoteIP, Hostname: firstHostname}
}
