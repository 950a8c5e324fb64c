package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/2beens/lxcgate/internal"
	"github.com/2beens/lxcgate/internal/config"
	"github.com/2beens/lxcgate/internal/logging"
	"github.com/2beens/lxcgate/pkg"

	log "github.com/sirupsen/logrus"
)

func main() {
	fmt.Println("starting ...")

	env := flag.String("env", "development", "environment [prod | production | dev | development]")
	configPath := flag.String("config", "./config.toml", "path for the TOML config file")
	flag.Parse()

	log.Warnf("---->> running in [%s] environment", *env)

	cfg, err := config.Load(*env, *configPath)
	if err != nil {
		panic(err)
	}

	sentryDSN := os.Getenv("SENTRY_DSN")
	logging.Setup(logging.LoggerSetupParams{
		LogFileName:      cfg.LogsPath,
		LogToStdout:      cfg.LogToStdout,
		LogLevel:         cfg.LogLevel,
		LogFormatJSON:    cfg.LogFormatJSON,
		Environment:      cfg.Environment,
		SentryEnabled:    cfg.SentryEnabled,
		SentryDSN:        sentryDSN,
		SentryServerName: "lxcgate",
	})

	log.Debugf("using port: %d", cfg.Port)
	log.Debugf("using server logs path: [%s]", cfg.LogsPath)

	versionInfo, err := tryGetLastCommitHash()
	if err != nil {
		log.Tracef("failed to get last commit hash / version info: %s", err)
	} else {
		log.Tracef("running version: %s", versionInfo)
	}

	jwtSecret := []byte(os.Getenv("LXCGATE_JWT_SECRET"))
	if len(jwtSecret) == 0 {
		log.Errorf("jwt secret not set, use LXCGATE_JWT_SECRET. generating a random one, sessions will not survive a restart")
		randomSecret, err := pkg.GenerateRandomBytes(32)
		if err != nil {
			log.Fatalf("generate jwt secret: %s", err)
		}
		jwtSecret = randomSecret
	}

	proxmoxAPIToken := os.Getenv("LXCGATE_PROXMOX_API_TOKEN")
	if proxmoxAPIToken == "" {
		log.Errorf("proxmox api token not set. use LXCGATE_PROXMOX_API_TOKEN")
	}

	discordWebhookURL := os.Getenv("LXCGATE_DISCORD_WEBHOOK_URL")
	if discordWebhookURL == "" {
		log.Warnln("discord webhook url not set. use LXCGATE_DISCORD_WEBHOOK_URL")
	}

	redisPassword := os.Getenv("LXCGATE_REDIS_PASS")
	if cfg.UsersStore == config.UsersStoreRedis && redisPassword == "" {
		log.Errorf("redis password not set. use LXCGATE_REDIS_PASS")
	}

	if otelServiceName := os.Getenv("OTEL_SERVICE_NAME"); otelServiceName == "" {
		log.Warnln("OTEL_SERVICE_NAME env var not set")
	}

	honeycombEnabled := os.Getenv("HONEYCOMB_ENABLED") == "true"
	if honeycombEnabled {
		if honeycombApiKey := os.Getenv("HONEYCOMB_API_KEY"); honeycombApiKey == "" {
			log.Warnln("HONEYCOMB_API_KEY env var not set")
		}
	} else {
		log.Debugln("honeycomb tracing disabled")
	}

	chOsInterrupt := make(chan os.Signal, 1)
	signal.Notify(chOsInterrupt, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			JWTSecret:               jwtSecret,
			ProxmoxAPIToken:         proxmoxAPIToken,
			DiscordWebhookURL:       discordWebhookURL,
			RedisPassword:           redisPassword,
			HoneycombTracingEnabled: honeycombEnabled,
			VersionInfo:             versionInfo,
		},
	)
	if err != nil {
		log.Fatalf("new server: %s", err)
	}

	server.Serve(cfg.Host, cfg.Port)

	receivedSig := <-chOsInterrupt
	log.Warnf("signal [%s] received, killing everything ...", receivedSig)
	cancel()

	server.GracefulShutdown()
}

// tryGetLastCommitHash will try to get the last commit hash
// assumes that the built main executable is in project root
func tryGetLastCommitHash() (string, error) {
	cmd := exec.Command("/usr/bin/git", "rev-parse", "--short", "HEAD")
	stdout, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(pkg.BytesToString(stdout)), nil
}
