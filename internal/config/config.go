// Package config loads sigsvc's runtime configuration from environment
// variables (with command-line flag overrides), following the same
// env-default-then-flag pattern used throughout this codebase.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	EnvListenIP   = "LISTEN_IP"
	EnvListenPort = "LISTEN_PORT"

	EnvSessionSvcURL                   = "SESSIONSVC_URL"
	EnvFlaskSecretKey                  = "FLASK_SECRET_KEY"
	EnvFlaskPermanentSessionLifetime   = "FLASK_PERMANENT_SESSION_LIFETIME"
	EnvAuthToken                       = "AUTH_TOKEN"
	EnvDebugNoAuth                     = "DEBUG_NO_AUTH"
	EnvAuthUserIDSource                = "AUTH_USER_ID_SOURCE"

	EnvLogFormat       = "SIGSVC_LOG_FORMAT"
	EnvLogLevel        = "SIGSVC_LOG_LEVEL"
	EnvMode            = "SIGSVC_MODE"
	EnvShutdownTimeout = "SIGSVC_SHUTDOWN_TIMEOUT"
	EnvAllowedOrigins  = "ALLOWED_ORIGINS"

	EnvSignalingAuthTimeout          = "SIGNALING_AUTH_TIMEOUT"
	EnvMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	EnvMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	DefaultFlaskPermanentSessionLifetime = 2678400 // 31 days, matching Flask's own default.

	DefaultShutdown              = 15 * time.Second
	DefaultMode             Mode = ModeDev
	DefaultSignalingAuthTimeout  = 2 * time.Second

	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultAuthUserIDSource AuthUserIDSource = AuthUserIDSourceCookie
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// AuthUserIDSource selects how a consumer's user ID is derived once it is
// known that a request carries a verified browser session: either by
// verifying the session cookie directly (the default) or by trusting an
// upstream-authenticated X-Auth-UID header (used in deployments where an
// edge proxy already performs cookie verification).
type AuthUserIDSource string

const (
	AuthUserIDSourceCookie AuthUserIDSource = "cookie"
	AuthUserIDSourceHeader AuthUserIDSource = "header"
)

type Config struct {
	ListenIP   string
	ListenPort int

	SessionSvcURL                 string
	FlaskSecretKey                string
	FlaskPermanentSessionLifetime time.Duration
	AuthToken                     string
	DebugNoAuth                   bool
	AuthUserIDSource              AuthUserIDSource

	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	AllowedOrigins  []string

	SignalingAuthTimeout          time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
}

// ListenAddr returns the host:port to bind, joining ListenIP/ListenPort the
// way net.Listen expects.
func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenIP, strconv.Itoa(c.ListenPort))
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	listenIP, ok := lookup(EnvListenIP)
	if !ok || strings.TrimSpace(listenIP) == "" {
		return Config{}, fmt.Errorf("%s is required", EnvListenIP)
	}
	listenPortRaw, ok := lookup(EnvListenPort)
	if !ok || strings.TrimSpace(listenPortRaw) == "" {
		return Config{}, fmt.Errorf("%s is required", EnvListenPort)
	}
	listenPort, err := strconv.Atoi(strings.TrimSpace(listenPortRaw))
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", EnvListenPort, listenPortRaw, err)
	}

	sessionSvcURL := envOrDefault(lookup, EnvSessionSvcURL, "")
	flaskSecretKey := envOrDefault(lookup, EnvFlaskSecretKey, "")
	authToken := envOrDefault(lookup, EnvAuthToken, "")

	flaskLifetimeSeconds, err := envIntOrDefault(lookup, EnvFlaskPermanentSessionLifetime, DefaultFlaskPermanentSessionLifetime)
	if err != nil {
		return Config{}, err
	}

	debugNoAuth := false
	if raw, ok := lookup(EnvDebugNoAuth); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvDebugNoAuth, raw, err)
		}
		debugNoAuth = v
	}

	authUserIDSourceStr := envOrDefault(lookup, EnvAuthUserIDSource, string(DefaultAuthUserIDSource))

	envMode, _ := lookup(EnvMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(EnvLogFormat)
	logFormatDefault := envLogFormat
	if !(envLogFormatOK && envLogFormat != "") {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(EnvLogLevel)
	logLevelDefault := envLogLevel
	if !(envLogLevelOK && envLogLevel != "") {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	allowedOriginsStr := envOrDefault(lookup, EnvAllowedOrigins, "")

	shutdownTimeout := DefaultShutdown
	if raw, ok := lookup(EnvShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvShutdownTimeout, raw, err)
		}
		shutdownTimeout = d
	}

	signalingAuthTimeout := DefaultSignalingAuthTimeout
	if raw, ok := lookup(EnvSignalingAuthTimeout); ok && strings.TrimSpace(raw) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvSignalingAuthTimeout, raw, err)
		}
		signalingAuthTimeout = d
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(EnvMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", EnvMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}

	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, EnvMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("sigsvc", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenIP, "listen-ip", listenIP, "Listen IP address (env "+EnvListenIP+")")
	fs.IntVar(&listenPort, "listen-port", listenPort, "Listen TCP port (env "+EnvListenPort+")")
	fs.StringVar(&sessionSvcURL, "sessionsvc-url", sessionSvcURL, "Base URL of the upstream session service (env "+EnvSessionSvcURL+")")
	fs.StringVar(&authToken, "auth-token", authToken, "Shared secret for producer connections (env "+EnvAuthToken+")")
	fs.BoolVar(&debugNoAuth, "debug-no-auth", debugNoAuth, "Bypass authentication entirely (env "+EnvDebugNoAuth+")")
	fs.StringVar(&authUserIDSourceStr, "auth-user-id-source", authUserIDSourceStr, "How to derive a consumer's user id: cookie or header (env "+EnvAuthUserIDSource+")")
	fs.IntVar(&flaskLifetimeSeconds, "flask-permanent-session-lifetime", flaskLifetimeSeconds, "Max age in seconds for the signed session cookie (env "+EnvFlaskPermanentSessionLifetime+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+EnvAllowedOrigins+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+EnvShutdownTimeout+")")
	fs.DurationVar(&signalingAuthTimeout, "signaling-auth-timeout", signalingAuthTimeout, "WebSocket handshake auth timeout (env "+EnvSignalingAuthTimeout+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling WS message size in bytes (env "+EnvMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling WS messages per second (env "+EnvMaxSignalingMessagesPerSecond+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	// A --mode flag also moves the log format/level defaults, unless those
	// were given explicitly by flag or env.
	explicit := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if !explicit["log-format"] && !(envLogFormatOK && envLogFormat != "") {
		logFormatStr = defaultLogFormatForMode(modeStr)
	}
	if !explicit["log-level"] && !(envLogLevelOK && envLogLevel != "") {
		logLevelStr = defaultLogLevelForMode(modeStr)
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	authUserIDSource, err := parseAuthUserIDSource(authUserIDSourceStr)
	if err != nil {
		return Config{}, err
	}

	var allowedOrigins []string
	for _, o := range strings.Split(allowedOriginsStr, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			allowedOrigins = append(allowedOrigins, o)
		}
	}

	return Config{
		ListenIP:   listenIP,
		ListenPort: listenPort,

		SessionSvcURL:                 sessionSvcURL,
		FlaskSecretKey:                flaskSecretKey,
		FlaskPermanentSessionLifetime: time.Duration(flaskLifetimeSeconds) * time.Second,
		AuthToken:                     authToken,
		DebugNoAuth:                   debugNoAuth,
		AuthUserIDSource:              authUserIDSource,

		Mode:            mode,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		ShutdownTimeout: shutdownTimeout,
		AllowedOrigins:  allowedOrigins,

		SignalingAuthTimeout:          signalingAuthTimeout,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAuthUserIDSource(raw string) (AuthUserIDSource, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(AuthUserIDSourceCookie):
		return AuthUserIDSourceCookie, nil
	case string(AuthUserIDSourceHeader):
		return AuthUserIDSourceHeader, nil
	default:
		return "", fmt.Errorf("invalid %s %q (expected cookie or header)", EnvAuthUserIDSource, raw)
	}
}
