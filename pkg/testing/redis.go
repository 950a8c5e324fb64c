package testing

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// RedisContainer is a throwaway redis server started in docker.
type RedisContainer struct {
	Host     string
	Port     string
	resource *dockertest.Resource
}

func (rc *RedisContainer) Addr() string {
	return net.JoinHostPort(rc.Host, rc.Port)
}

// Close removes the container.
func (rc *RedisContainer) Close() error {
	return rc.resource.Close()
}

// StartRedis runs a redis container in pool and waits until it answers PING.
func StartRedis(pool *dockertest.Pool) (*RedisContainer, error) {
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "6.2",
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		return nil, fmt.Errorf("run redis: %w", err)
	}

	rc := &RedisContainer{
		Host:     dockerHost(),
		Port:     resource.GetPort("6379/tcp"),
		resource: resource,
	}

	if err := pool.Retry(func() error {
		rdb := redis.NewClient(&redis.Options{Addr: rc.Addr()})
		defer rdb.Close()
		return rdb.Ping(context.Background()).Err()
	}); err != nil {
		_ = resource.Close()
		return nil, fmt.Errorf("wait for redis: %w", err)
	}

	return rc, nil
}

// GetRedisClient starts a redis container and returns a client connected to
// it. Both are cleaned up when the test ends.
func GetRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err)
	require.NoError(t, pool.Client.Ping())

	rc, err := StartRedis(pool)
	require.NoError(t, err)
	t.Logf("using redis at: [%s]", rc.Addr())

	rdb := redis.NewClient(&redis.Options{
		Addr: rc.Addr(),
		DB:   0, // use default DB
	})
	t.Cleanup(func() {
		_ = rdb.Close()
		_ = rc.Close()
	})

	return rdb
}

func dockerHost() string {
	if host := os.Getenv("REDIS_HOST"); host != "" {
		return host
	}
	return "localhost"
}
