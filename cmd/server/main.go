// Beacon is a personal-safety emergency alert service: panic activation,
// trusted-contact fan-out over SMS/email/push, and alert lifecycle tracking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/linnemanlabs/go-core/cfg"
	"github.com/linnemanlabs/go-core/opshttp"
	"github.com/linnemanlabs/go-core/prof"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/linnemanlabs/go-core/health"

	"github.com/linnemanlabs/go-core/httpmw"
	"github.com/linnemanlabs/go-core/httpserver"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/go-core/metrics"
	"github.com/linnemanlabs/go-core/otelx"
	v "github.com/linnemanlabs/go-core/version"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/beacon/internal/alert"
	alertmem "github.com/linnemanlabs/beacon/internal/alert/memstore"
	alertpg "github.com/linnemanlabs/beacon/internal/alert/pgstore"
	"github.com/linnemanlabs/beacon/internal/auth"
	bc "github.com/linnemanlabs/beacon/internal/cfg"
	"github.com/linnemanlabs/beacon/internal/contact"
	contactmem "github.com/linnemanlabs/beacon/internal/contact/memstore"
	contactpg "github.com/linnemanlabs/beacon/internal/contact/pgstore"
	"github.com/linnemanlabs/beacon/internal/emergency"
	"github.com/linnemanlabs/beacon/internal/emergencyapi"
	"github.com/linnemanlabs/beacon/internal/live"
	"github.com/linnemanlabs/beacon/internal/notify"
	"github.com/linnemanlabs/beacon/internal/notify/emailhttp"
	"github.com/linnemanlabs/beacon/internal/notify/pushhttp"
	"github.com/linnemanlabs/beacon/internal/notify/smshttp"
	"github.com/linnemanlabs/beacon/internal/postgres"
	"github.com/linnemanlabs/beacon/internal/user"
	usermem "github.com/linnemanlabs/beacon/internal/user/memstore"
	userpg "github.com/linnemanlabs/beacon/internal/user/pgstore"
)

const appName = "beacon"
const component = "server"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Identify this binary in version info, logs, and metrics.
	v.AppName = appName
	v.Component = component

	vi := v.Get()

	// Every package owns its config struct and registers its own flags.
	var (
		appCfg    bc.Config
		httpCfg   httpserver.Config
		httpmwCfg httpmw.Config
		logCfg    log.Config
		opsCfg    opshttp.Config
		profCfg   prof.Config
		traceCfg  otelx.Config
	)

	appCfg.RegisterFlags(flag.CommandLine)
	httpCfg.RegisterFlags(flag.CommandLine)
	httpmwCfg.RegisterFlags(flag.CommandLine)
	logCfg.RegisterFlags(flag.CommandLine)
	opsCfg.RegisterFlags(flag.CommandLine)
	profCfg.RegisterFlags(flag.CommandLine)
	traceCfg.RegisterFlags(flag.CommandLine)
	var showVersion bool
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	flag.Parse()
	if showVersion {
		fmt.Printf(
			"%s (%s) %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			vi.AppName, vi.Component, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		return nil
	}

	// Environment variables (BEACON_*) fill anything not set on the command line.
	cfg.FillFromEnv(flag.CommandLine, "BEACON_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := errors.Join(
		appCfg.Validate(),
		httpCfg.Validate(),
		httpmwCfg.Validate(),
		logCfg.Validate(),
		opsCfg.Validate(),
		profCfg.Validate(),
		traceCfg.Validate(),
	); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	// Checks that span more than one config struct live here.
	if appCfg.APIPort == opsCfg.Port {
		return fmt.Errorf("http and admin ports must differ (both %d)", appCfg.APIPort)
	}

	// Logger comes up before anything that can fail noisily.
	lg, err := log.New(logCfg.ToOptions(v.AppName))
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	// Sync is a no-op for the stderr backend but buffered backends need it.
	defer func() { _ = lg.Sync() }()

	L := lg.With("component", vi.Component)

	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", appCfg.APIPort,
		"admin_port", opsCfg.Port,
		"enable_pprof", opsCfg.EnablePprof,
		"enable_pyroscope", profCfg.EnablePyroscope,
		"enable_tracing", traceCfg.EnableTracing,
		"trace_sample", traceCfg.TraceSample,
		"trace_insecure", traceCfg.Insecure,
		"otlp_endpoint", traceCfg.OTLPEndpoint,
		"pyro_server", profCfg.PyroServer,
		"pyro_tenant", profCfg.PyroTenantID,
		"include_error_links", logCfg.IncludeErrorLinks,
		"max_error_links", logCfg.MaxErrorLinks,
		"trusted_proxy_hops", httpmwCfg.TrustedProxyHops,
		"sms_enabled", appCfg.SMSWebhookURL != "",
		"email_enabled", appCfg.EmailWebhookURL != "",
		"push_enabled", appCfg.PushWebhookURL != "",
	)

	// Profiling starts first so the whole lifetime is covered.
	profOpts := profCfg.ToOptions()
	profOpts.AppName = v.AppName
	profOpts.Tags = map[string]string{
		"app":       v.AppName,
		"component": v.Component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "lmlabs-go-agent",
	}
	stopProf, profErr := prof.Start(ctx, profOpts)
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", profCfg.PyroServer)
	}
	if stopProf != nil {
		defer stopProf()
	}

	traceOpts := traceCfg.ToOptions()
	traceOpts.Service = v.AppName
	traceOpts.Component = v.Component
	traceOpts.Version = v.Version

	shutdownOtelx, err := otelx.Init(ctx, traceOpts)
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	if shutdownOtelx != nil {
		defer func() { _ = shutdownOtelx(context.Background()) }()
	}

	// Link spans to profiles so traces carry profile IDs when both are on
	if profErr == nil && profCfg.EnablePyroscope && traceCfg.EnableTracing {
		otel.SetTracerProvider(otelpyroscope.NewTracerProvider(otel.GetTracerProvider()))
	}

	var m = metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", &vi)
	m.SetProfilingActive(profErr == nil && profCfg.EnablePyroscope)

	// Initialize stores. The user schema carries the foreign keys the other
	// two reference, so it is applied first.
	var (
		userStore    user.Store
		contactStore contact.Store
		alertStore   alert.Store
	)
	if appCfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, appCfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("postgres pool: %w", err)
		}
		defer pool.Close()

		userPG, err := userpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("user pgstore init: %w", err)
		}
		contactPG, err := contactpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("contact pgstore init: %w", err)
		}
		alertPG, err := alertpg.New(ctx, pool)
		if err != nil {
			return fmt.Errorf("alert pgstore init: %w", err)
		}
		userStore, contactStore, alertStore = userPG, contactPG, alertPG
		L.Info(ctx, "using postgres stores")
	} else {
		userStore = usermem.New()
		contactStore = contactmem.New()
		alertStore = alertmem.New()
		L.Info(ctx, "using in-memory stores (no database-url configured)")
	}

	// Register per-query DB duration histogram and wire the observer.
	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "beacon_db_query_duration_seconds",
		Help:    "Duration of individual database queries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "outcome"})
	m.Registry().MustRegister(dbQueryDuration)

	postgres.SetQueryObserver(postgres.QueryObserverFunc(
		func(_ context.Context, method, route, outcome string, dur time.Duration) {
			dbQueryDuration.WithLabelValues(method, route, outcome).Observe(dur.Seconds())
		},
	))

	// Token mint/verify and the account service.
	tokens := auth.NewTokens([]byte(appCfg.JWTSecret), appCfg.JWTIssuer,
		time.Duration(appCfg.JWTTTLMinutes)*time.Minute)
	accountSvc := user.NewService(userStore, tokens, L, appCfg.BcryptCost)

	// Notification channels. A channel with no webhook URL stays nil and
	// the dispatcher records failed outcomes for contacts that opt into it.
	var (
		smsSender   notify.SMSSender
		emailSender notify.EmailSender
		pushSender  notify.PushSender
	)
	if appCfg.SMSWebhookURL != "" {
		smsSender = smshttp.New(appCfg.SMSWebhookURL, appCfg.SMSAPIKey, appCfg.SMSFrom)
		L.Info(ctx, "notification channel enabled", "channel", "sms")
	}
	if appCfg.EmailWebhookURL != "" {
		emailSender = emailhttp.New(appCfg.EmailWebhookURL, appCfg.EmailAPIKey, appCfg.EmailFrom)
		L.Info(ctx, "notification channel enabled", "channel", "email")
	}
	if appCfg.PushWebhookURL != "" {
		pushSender = pushhttp.New(appCfg.PushWebhookURL, appCfg.PushAPIKey)
		L.Info(ctx, "notification channel enabled", "channel", "push")
	}

	// Initialize emergency metrics on the shared Prometheus registry.
	emergencyMetrics := emergency.NewMetrics(m.Registry())

	dispatcher := notify.NewDispatcher(smsSender, emailSender, pushSender, contactStore, L, emergencyMetrics.Hooks())

	// Live event hub for connected apps.
	hub := live.NewHub(L)

	// The orchestrator owns the activation and resolution flows.
	emergencySvc := emergency.NewService(alertStore, contactStore, userStore, dispatcher, hub, L, emergencyMetrics)

	// The gate flips readiness to failing during shutdown so the load
	// balancer drains us before the process exits.
	var shutdownGate health.ShutdownGate

	readiness := health.All(
		shutdownGate.Probe(),
	)
	// Liveness only proves the process can serve a response.
	liveness := health.Fixed(true, "")

	// Ops listener: metrics, health, pprof.
	opsOpts := opsCfg.ToOptions()
	opsOpts.Metrics = m.Handler()
	opsOpts.Health = liveness
	opsOpts.Readiness = readiness
	opsOpts.UseRecoverMW = true
	opsOpts.OnPanic = m.IncHttpPanic

	// The ops port is only reachable from monitoring infrastructure; its
	// middleware additionally rejects public IPs and forwarded requests.
	opsHTTPStop, err := opshttp.Start(ctx, L, opsOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		return err
	}
	defer func() {
		err := opsHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop ops http listener")
		}
	}()

	r := chi.NewRouter()

	// Responses are JSON only.
	r.Use(middleware.Compress(5, "application/json"))

	// Adds http.route from the chi pattern to the logger and active span.
	r.Use(httpmw.AnnotateHTTPRoute)

	// Stash HTTP method in context for DB query metrics labelling.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(postgres.WithHTTPMethod(req.Context(), req.Method)))
		})
	})

	r.Use(httpmw.AccessLog())

	// Oversized bodies get a 413. Alert and contact payloads are small.
	r.Use(httpmw.MaxBody(1024 * 64))

	// Health endpoints also exist on the main listener for the load balancer.
	r.Get("/-/healthy", health.HealthzHandler(liveness))
	r.Get("/-/ready", health.ReadyzHandler(readiness))

	authn := auth.Middleware(tokens, userStore, L)
	api := emergencyapi.New(L, emergencySvc, contactStore, accountSvc, hub)
	api.RegisterRoutes(r, authn)

	// Wrapping order matters: the outermost wrapper sees the raw request
	// first, the innermost sees the context every outer layer built up.
	var h http.Handler = r

	// Inner so the request logger picks up trace_id and the chi route.
	h = httpmw.WithLogger(L)(h)

	h = httpmw.TraceResponseHeaders("X-Trace-Id", "X-Span-Id")(h)

	h = otelhttp.NewHandler(h, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			// health probes produce no useful spans
			return r.URL.Path != "/-/healthy" && r.URL.Path != "/-/ready"
		}),
		// renamed to the route pattern once chi has matched
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
		// inbound trace context comes from untrusted clients
		otelhttp.WithPublicEndpointFn(func(_ *http.Request) bool { return true }),
	)

	h = m.Middleware(h)

	// Resolves the client IP once, outermost, so every layer below agrees
	// on it.
	h = httpmw.ClientIPWithOptions(httpmw.ClientIPOptions{
		TrustedHops: httpmwCfg.TrustedProxyHops,
	})(h)

	h = httpmw.RequestID("X-Request-Id")(h)

	// Panics anywhere below become logged 500s.
	h = httpmw.Recover(L, nil)(h)

	// Security headers go on every response, even ones from panics.
	h = httpmw.SecurityHeaders(h)

	apiOpts, err := httpCfg.ToOptions()
	if err != nil {
		L.Error(ctx, err, "invalid http config")
		return err
	}

	apiHTTPStop, err := httpserver.Start(ctx, fmt.Sprintf(":%d", appCfg.APIPort), h, L, apiOpts)
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		return err
	}
	defer func() {
		err := apiHTTPStop(context.Background())
		if err != nil {
			L.Error(ctx, err, "failed to stop api http listener")
		}
	}()

	if err := notifySystemd(); err != nil {
		// Not fatal: systemd kills us after its own timeout if it cares.
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()

	L.Info(context.Background(), "shutdown signal received")

	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// Give the load balancer time to notice the failing readiness probe
	// and stop routing to us.
	drainDuration := time.Duration(appCfg.DrainSeconds) * time.Second
	L.Info(context.Background(), "sleeping for drain period", "drain_seconds", appCfg.DrainSeconds)
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainDuration):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	// Each component gets an equal slice of the shutdown budget. stopProf
	// is synchronous and runs after the loop.
	type stopFn struct {
		name string
		fn   func(context.Context) error
	}
	stopFns := []stopFn{
		{"api http server", apiHTTPStop},
		{"ops http server", opsHTTPStop},
		{"live hub", func(context.Context) error { hub.Close(); return nil }},
		{"otel", shutdownOtelx},
	}

	budget := time.Duration(appCfg.ShutdownBudgetSeconds) * time.Second
	perComponent := budget / time.Duration(len(stopFns))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()

	for _, s := range stopFns {
		cctx, ccancel := context.WithTimeout(shutdownCtx, perComponent)
		if err := s.fn(cctx); err != nil {
			L.Error(context.Background(), err, s.name+" shutdown")
		}
		ccancel()
	}

	if stopProf != nil {
		stopProf()
	}

	L.Info(context.Background(), "shutdown complete")
	return nil
}

func notifySystemd() error {
	// Under Type=notify, systemd hands us a unixgram socket path.
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr) //nolint:gosec,noctx // G704: addr is from NOTIFY_SOCKET set by systemd not user input, no context support in net package for unixgram sockets
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	return nil
}
