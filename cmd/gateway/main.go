// Command gateway is the process entrypoint: it loads configuration, wires
// every collaborator the DATA-phase orchestrator needs, and serves SMTP
// until signaled to stop. There is no HTTP surface (spec §1 Non-goals) —
// this binary only ever listens on the configured SMTP port(s).
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vaultsandbox/gateway/internal/authpipeline"
	"github.com/vaultsandbox/gateway/internal/certprovider"
	"github.com/vaultsandbox/gateway/internal/chaos"
	"github.com/vaultsandbox/gateway/internal/config"
	"github.com/vaultsandbox/gateway/internal/cryptoengine"
	"github.com/vaultsandbox/gateway/internal/delivery"
	"github.com/vaultsandbox/gateway/internal/emailstore"
	"github.com/vaultsandbox/gateway/internal/events"
	"github.com/vaultsandbox/gateway/internal/inbox"
	"github.com/vaultsandbox/gateway/internal/logging"
	"github.com/vaultsandbox/gateway/internal/manager"
	"github.com/vaultsandbox/gateway/internal/metrics"
	"github.com/vaultsandbox/gateway/internal/ratelimit"
	"github.com/vaultsandbox/gateway/internal/resolver"
	smtpserver "github.com/vaultsandbox/gateway/internal/smtp"
	"github.com/vaultsandbox/gateway/internal/webhook"
)

func main() {
	configPath := flag.String("config", "gateway.toml", "path to the gateway TOML config file")
	logPath := flag.String("log", "gateway.log", "path to the log file")
	flag.Parse()

	logFile, err := logging.InitLogger(*logPath)
	if err != nil {
		panic(err)
	}
	defer logFile.Close()
	config.WarnMissingTLSVersion = func() {
		logging.WarnLog("config: smtp.secure is set without smtp.tls.minVersion, defaulting to TLS1.2")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.FatalLog("config: %v", err)
	}

	coll := inbox.NewMemoryCollaborator()
	store := emailstore.New(coll, int64(cfg.SMTP.MaxMemoryMB*(1<<20)), cfg.SMTP.MaxEmailAgeSeconds*1000)
	defer store.Close()

	crypto, err := cryptoengine.New()
	if err != nil {
		logging.FatalLog("cryptoengine: %v", err)
	}

	dns := resolver.New()
	auth := authpipeline.New(authpipeline.Config{
		Enabled:    cfg.EmailAuth.Enabled,
		SPF:        cfg.EmailAuth.SPF,
		DKIM:       cfg.EmailAuth.DKIM,
		DMARC:      cfg.EmailAuth.DMARC,
		ReverseDNS: cfg.EmailAuth.ReverseDNS,
	}, dns)

	chaosEngine := chaos.New()
	bus := events.New()
	hooks := webhook.New(nil)

	reg := prometheus.NewRegistry()
	var collector metrics.Collector = metrics.NewPrometheusCollector(reg)

	workers := manager.New()
	defer workers.Close()

	orch := delivery.New(coll, store, crypto, auth, chaosEngine, bus, hooks, collector, nil, chaos.Config{Enabled: cfg.Chaos.Enabled})
	orch.Manager = workers

	limiter := ratelimit.New(cfg.SMTPRateLimit.Enabled, cfg.SMTPRateLimit.Points, cfg.SMTPRateLimit.Duration.AsDuration())

	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		logging.FatalLog("certprovider: %v", err)
	}

	backend := smtpserver.NewBackend(cfg, orch, limiter, coll, collector)
	server := smtpserver.NewServer(backend, cfg.SMTP, tlsCfg)

	if err := server.Start(); err != nil {
		logging.FatalLog("smtp: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logging.InfoLog("shutdown: signal received, draining in-flight sessions")
	server.Stop()
}

// buildTLSConfig loads the configured certificate, if any, into the
// *tls.Config the SMTP session engine attaches for STARTTLS or wraps with
// tls.Listen for implicit TLS. A disabled certificate section leaves TLS
// off entirely, which is only valid when smtp.secure is also false.
func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	if !cfg.Certificate.Enabled {
		return nil, nil
	}
	provider, err := certprovider.LoadStatic(cfg.Certificate.CertFile, cfg.Certificate.KeyFile)
	if err != nil {
		return nil, err
	}
	return certprovider.TLSConfig(cfg.SMTP.TLS, provider)
}
