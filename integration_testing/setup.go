//go:build integration

package integration_testing

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/2beens/lxcgate/internal"
	"github.com/2beens/lxcgate/internal/config"
	lxctesting "github.com/2beens/lxcgate/pkg/testing"

	"github.com/ory/dockertest/v3"
	"golang.org/x/crypto/bcrypt"
)

const (
	serverPort = 9000
	serverHost = "localhost"
)

var serverEndpoint = fmt.Sprintf("http://%s:%d", serverHost, serverPort)

type Suite struct {
	dockerPool *dockertest.Pool
	redis      *lxctesting.RedisContainer
	proxmox    *httptest.Server
	server     *internal.Server
	teardown   []func()
}

func newSuite(ctx context.Context) *Suite {
	var err error
	suite := &Suite{
		teardown: make([]func(), 0),
	}

	// uses a sensible default on windows (tcp/http) and linux/osx (socket)
	suite.dockerPool, err = dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not create new dockertest pool: %s", err)
	}

	// uses pool to try to connect to Docker
	if err = suite.dockerPool.Client.Ping(); err != nil {
		log.Fatalf("could not ping dockertest pool: %s", err)
	}

	suite.redis, err = lxctesting.StartRedis(suite.dockerPool)
	if err != nil {
		suite.cleanup()
		log.Fatalf("failed to setup redis: %s", err)
	}
	suite.teardown = append(suite.teardown, func() {
		_ = suite.redis.Close()
	})

	suite.proxmox = httptest.NewServer(fakeProxmox())
	suite.teardown = append(suite.teardown, suite.proxmox.Close)

	cfg := getTestConfig(suite.redis, suite.proxmox.URL)
	suite.server, err = internal.NewServer(
		ctx,
		internal.NewServerParams{
			Config:                  cfg,
			JWTSecret:               []byte("integration-test-secret"),
			ProxmoxAPIToken:         "root@pam!it=secret",
			VersionInfo:             "test-version-info",
			RedisPassword:           "",
			HoneycombTracingEnabled: false,
		},
	)
	if err != nil {
		suite.cleanup()
		log.Fatalf("new server: %s", err)
	}

	suite.server.Serve(cfg.Host, cfg.Port)
	waitForServer()

	return suite
}

func (s *Suite) cleanup() {
	if s.server != nil {
		s.server.GracefulShutdown()
	}
	for _, teardown := range s.teardown {
		teardown()
	}
}

func getTestConfig(redis *lxctesting.RedisContainer, proxmoxURL string) *config.Config {
	return &config.Config{
		Host:                  serverHost,
		Port:                  serverPort,
		PrometheusMetricsHost: serverHost,
		PrometheusMetricsPort: "9001",
		UsersStore:            config.UsersStoreRedis,
		UsersRedisKey:         "lxcgate-users-it",
		RedisHost:             redis.Host,
		RedisPort:             redis.Port,
		BcryptCost:            bcrypt.MinCost,
		TokenTTL:              config.Duration{Duration: time.Hour},
		ProxmoxBaseURL:        proxmoxURL + "/api2/json",
		ProxmoxNode:           "pve",
		ProxmoxTimeout:        config.Duration{Duration: 5 * time.Second},
		ProxmoxCacheTTLSec:    5,
	}
}

func fakeProxmox() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api2/json/nodes/pve/lxc", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"vmid":"101","name":"web","status":"running"}]}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve/lxc/101/status/current", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"cpus":2,"cpu":0.1,"mem":256,"maxmem":512,"disk":1,"maxdisk":8,"netin":5,"netout":6}}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve/lxc/101/status/start", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":"UPID:pve:start"}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve/lxc/101/status/stop", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":"UPID:pve:stop"}`))
	})
	mux.HandleFunc("/api2/json/nodes/pve/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"uptime":1}}`))
	})
	return mux
}

func waitForServer() {
	for i := 0; i < 50; i++ {
		resp, err := http.Get(serverEndpoint + "/")
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	log.Fatalf("server at %s did not come up", serverEndpoint)
}
