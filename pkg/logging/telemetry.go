// Package logging configures slog output and the optional OpenTelemetry
// export of logs and traces.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"go-wanderer/pkg/config"
	"go-wanderer/pkg/version"
)

// TelemetryConfig is read from the environment before the typed config
// loads, so logging works during startup.
type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
	LogLevel     string
	PrettyLogs   bool
	Environment  string
}

// TelemetryManager owns the slog default handler and the OTLP exporters.
type TelemetryManager struct {
	cfg           TelemetryConfig
	shutdownFuncs []func(context.Context) error
}

func NewTelemetryManager() *TelemetryManager {
	return &TelemetryManager{
		cfg: TelemetryConfig{
			Enabled:      config.GetBoolEnv("ENABLE_TELEMETRY", true),
			ServiceName:  config.GetEnv("SERVICE_NAME", "wanderer-notifier"),
			OTLPEndpoint: config.GetEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
			LogLevel:     config.GetEnv("LOG_LEVEL", "info"),
			PrettyLogs:   config.GetBoolEnv("ENABLE_PRETTY_LOGS", false),
			Environment:  config.GetEnv("ENVIRONMENT", "dev"),
		},
	}
}

// Initialize installs the default slog handler and, when telemetry is
// enabled, the OTLP trace and log exporters. Exporter failures are logged
// and the service continues with console logging only.
func (tm *TelemetryManager) Initialize(ctx context.Context) error {
	tm.installLogger()

	if !tm.cfg.Enabled {
		slog.Info("Telemetry disabled", slog.String("service", tm.cfg.ServiceName))
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(tm.cfg.ServiceName),
			semconv.ServiceVersionKey.String(version.Version),
			semconv.DeploymentEnvironmentKey.String(tm.cfg.Environment),
		),
	)
	if err != nil {
		return err
	}

	if err := tm.initTracing(ctx, res); err != nil {
		slog.Warn("Failed to initialize tracing", "error", err)
	}
	if err := tm.initLogExport(ctx, res); err != nil {
		slog.Warn("Failed to initialize log export", "error", err)
	}

	slog.Info("Telemetry initialized",
		slog.String("service", tm.cfg.ServiceName),
		slog.String("endpoint", tm.cfg.OTLPEndpoint),
		slog.String("log_level", tm.cfg.LogLevel),
	)
	return nil
}

func (tm *TelemetryManager) initTracing(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(tm.cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithURLPath("/v1/traces"),
	)
	if err != nil {
		return err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tm.shutdownFuncs = append(tm.shutdownFuncs, tp.Shutdown)
	return nil
}

func (tm *TelemetryManager) initLogExport(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(tm.cfg.OTLPEndpoint),
		otlploghttp.WithInsecure(),
		otlploghttp.WithURLPath("/v1/logs"),
	)
	if err != nil {
		return err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
		sdklog.WithResource(res),
	)
	global.SetLoggerProvider(lp)

	tm.shutdownFuncs = append(tm.shutdownFuncs, lp.Shutdown)
	return nil
}

// installLogger sets the process-wide slog default: text for pretty mode,
// JSON otherwise, wrapped with the OTel bridge when telemetry is on.
func (tm *TelemetryManager) installLogger() {
	opts := &slog.HandlerOptions{Level: parseLogLevel(tm.cfg.LogLevel)}

	var handler slog.Handler
	if tm.cfg.PrettyLogs {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	if tm.cfg.Enabled {
		handler = NewOTelHandler(handler)
	}

	slog.SetDefault(slog.New(handler))
}

// Shutdown flushes and stops the exporters.
func (tm *TelemetryManager) Shutdown(ctx context.Context) error {
	for _, shutdown := range tm.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			slog.Error("Error shutting down telemetry component", "error", err)
		}
	}
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
