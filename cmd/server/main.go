// Command server starts the YouTube-to-MP3 conversion HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"yt2mp3/internal/api"
	"yt2mp3/internal/convert"
	"yt2mp3/internal/observability/logging"
	"yt2mp3/internal/observability/metrics"
	"yt2mp3/internal/server"
	"yt2mp3/internal/source"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	backend := flag.String("backend", "", "audio source backend (local, hosted, or api)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	ffmpegBinary := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ytdlpPath := flag.String("ytdlp-path", "", "explicit path to a yt-dlp binary")
	ytdlpBinDir := flag.String("ytdlp-bin-dir", "", "directory for vendored or downloaded yt-dlp binaries")
	ytdlpDownloadURL := flag.String("ytdlp-download-url", "", "override the yt-dlp release asset URL")
	cookiesFile := flag.String("cookies-file", "", "path to a Netscape cookies file passed to yt-dlp")
	disableCookies := flag.Bool("disable-cookies", false, "never pass cookies to yt-dlp")
	ytdlpMetadataArgs := flag.String("ytdlp-metadata-args", "", "extra yt-dlp arguments for metadata probes")
	ytdlpStreamArgs := flag.String("ytdlp-stream-args", "", "extra yt-dlp arguments for audio streaming")
	apiKey := flag.String("api-key", "", "API key for the third-party conversion service")
	apiEndpoint := flag.String("api-endpoint", "", "endpoint URL of the third-party conversion service")
	apiHost := flag.String("api-host", "", "X-RapidAPI-Host header for the third-party conversion service")
	apiMethod := flag.String("api-method", "", "HTTP method for the third-party conversion service")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	convertLimit := flag.Int("rate-convert-limit", 0, "maximum conversions per window for a single IP")
	convertWindow := flag.Duration("rate-convert-window", 0, "window for counting conversion attempts")
	redisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed conversion throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed conversion throttling")
	redisDB := flag.Int("rate-redis-db", 0, "Redis database for distributed conversion throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	shutdownTimeout := flag.Duration("shutdown-timeout", 0, "grace period for in-flight conversions on shutdown")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("YT2MP3_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("YT2MP3_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("YT2MP3_ADDR"), ":3000")
	backendName := strings.ToLower(firstNonEmpty(*backend, os.Getenv("YT2MP3_BACKEND"), source.BackendLocal))

	hosted := source.NewHosted(nil)

	var src source.Source
	var primary source.Prober
	switch backendName {
	case source.BackendLocal:
		local := source.NewLocal(source.LocalConfig{
			BinaryPath:     firstNonEmpty(*ytdlpPath, os.Getenv("YT2MP3_YTDLP_PATH")),
			BinDir:         firstNonEmpty(*ytdlpBinDir, os.Getenv("YT2MP3_YTDLP_BIN_DIR")),
			DownloadURL:    firstNonEmpty(*ytdlpDownloadURL, os.Getenv("YT2MP3_YTDLP_DOWNLOAD_URL")),
			CookiesFile:    firstNonEmpty(*cookiesFile, os.Getenv("YT2MP3_COOKIES_FILE")),
			CookiesContent: os.Getenv("YT2MP3_COOKIES_CONTENT"),
			CookiesBase64:  resolveBool(false, "YT2MP3_COOKIES_BASE64"),
			DisableCookies: resolveBool(*disableCookies, "YT2MP3_DISABLE_COOKIES"),
			MetadataArgs:   firstNonEmpty(*ytdlpMetadataArgs, os.Getenv("YT2MP3_YTDLP_METADATA_ARGS")),
			StreamArgs:     firstNonEmpty(*ytdlpStreamArgs, os.Getenv("YT2MP3_YTDLP_STREAM_ARGS")),
			Logger:         logging.WithComponent(logger, "ytdlp"),
		})
		src = local
		primary = local
	case source.BackendHosted:
		src = hosted
		primary = hosted
	case source.BackendAPI:
		remote := source.NewAPI(source.APIConfig{
			Key:      firstNonEmpty(*apiKey, os.Getenv("YT2MP3_API_KEY")),
			Endpoint: firstNonEmpty(*apiEndpoint, os.Getenv("YT2MP3_API_ENDPOINT")),
			Host:     firstNonEmpty(*apiHost, os.Getenv("YT2MP3_API_HOST")),
			Method:   firstNonEmpty(*apiMethod, os.Getenv("YT2MP3_API_METHOD")),
			Logger:   logging.WithComponent(logger, "remoteapi"),
		})
		src = remote
		primary = remote
	default:
		fmt.Fprintf(os.Stderr, "unknown backend %q: expected local, hosted, or api\n", backendName)
		os.Exit(2)
	}

	resolver := &convert.Resolver{
		Primary: primary,
		Logger:  logging.WithComponent(logger, "metadata"),
	}
	if backendName != source.BackendHosted {
		// The hosted library doubles as a metadata fallback when the
		// primary prober cannot answer.
		resolver.Fallback = hosted
	}

	pipeline, err := convert.NewPipeline(convert.Config{
		Source:   src,
		Encoder:  &convert.FFmpegEncoder{Binary: firstNonEmpty(*ffmpegBinary, os.Getenv("YT2MP3_FFMPEG"))},
		Resolver: resolver,
		Backend:  backendName,
		Logger:   logging.WithComponent(logger, "pipeline"),
		Metrics:  recorder,
	})
	if err != nil {
		logger.Error("failed to initialise pipeline", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(pipeline)
	handler.Backend = backendName

	tlsCfg := server.TLSConfig{
		CertFile: firstNonEmpty(*tlsCert, os.Getenv("YT2MP3_TLS_CERT")),
		KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("YT2MP3_TLS_KEY")),
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS:  tlsCfg,
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "YT2MP3_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "YT2MP3_RATE_GLOBAL_BURST"),
			ConvertLimit:  resolveInt(*convertLimit, "YT2MP3_RATE_CONVERT_LIMIT"),
			ConvertWindow: resolveDuration(*convertWindow, "YT2MP3_RATE_CONVERT_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*redisAddr, os.Getenv("YT2MP3_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*redisPassword, os.Getenv("YT2MP3_RATE_REDIS_PASSWORD")),
			RedisDB:       resolveInt(*redisDB, "YT2MP3_RATE_REDIS_DB"),
			RedisTimeout:  resolveDuration(*redisTimeout, "YT2MP3_RATE_REDIS_TIMEOUT", 0),
		},
		CORS: server.CORSConfig{
			AllowedOrigins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("YT2MP3_CORS_ORIGINS"))),
		},
		Logger:  logging.WithComponent(logger, "http"),
		Metrics: recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("yt2mp3 listening", "addr", listenAddr, "backend", backendName)
	if tlsCfg.CertFile != "" && tlsCfg.KeyFile != "" {
		logger.Info("TLS enabled", "cert_file", tlsCfg.CertFile)
	}
	logger.Info("metrics endpoint available", "path", "/metrics")

	if err := srv.Run(ctx, server.RunConfig{
		ShutdownTimeout: resolveDuration(*shutdownTimeout, "YT2MP3_SHUTDOWN_TIMEOUT", server.DefaultShutdownTimeout),
	}); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
