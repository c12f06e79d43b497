// Package testutil starts the database containers used by the store
// integration tests. Containers are shared per test binary; when Docker is
// not available the calling test is skipped.
package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type shared struct {
	once      sync.Once
	container testcontainers.Container
	endpoint  string
	err       error
}

var (
	postgres shared
	mongo    shared
	redis    shared
)

// GetPostgresDSN returns a DSN for a running PostgreSQL 16 container.
func GetPostgresDSN(t *testing.T) string {
	t.Helper()
	endpoint := start(t, &postgres, "postgres:16",
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("ready to accept connections"),
				// Verify SQL connectivity with a DSN built from the mapped port.
				wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
					return fmt.Sprintf("postgres://dalma:dalma@%s:%s/dalma_test?sslmode=disable", host, port.Port())
				}).WithQuery("SELECT 1"),
			).WithDeadline(2*time.Minute),
		),
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "dalma",
			"POSTGRES_PASSWORD": "dalma",
			"POSTGRES_DB":       "dalma_test",
		}),
	)
	return fmt.Sprintf("postgres://dalma:dalma@%s/dalma_test?sslmode=disable", endpoint)
}

// GetMongoURI returns a connection URI for a running MongoDB 7 container.
func GetMongoURI(t *testing.T) string {
	t.Helper()
	endpoint := start(t, &mongo, "mongo:7",
		testcontainers.WithExposedPorts("27017/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("27017/tcp"),
			wait.ForLog("mongod startup complete"),
		),
	)
	return "mongodb://" + endpoint
}

// GetRedisAddress returns host:port of a running Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	return start(t, &redis, "redis:7",
		testcontainers.WithExposedPorts("6379/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("6379/tcp"),
			wait.ForLog("Ready to accept connections"),
		),
	)
}

func start(t *testing.T, s *shared, image string, opts ...testcontainers.ContainerCustomizer) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	s.once.Do(func() {
		defer func() {
			// testcontainers panics when no Docker host can be found.
			if r := recover(); r != nil {
				s.err = fmt.Errorf("docker unavailable: %v", r)
			}
		}()

		// Give generous timeout in CI environments
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		c, err := testcontainers.Run(ctx, image, opts...)
		if err != nil {
			s.err = err
			return
		}
		endpoint, err := c.Endpoint(ctx, "")
		if err != nil {
			_ = c.Terminate(context.Background()) // best-effort cleanup
			s.err = err
			return
		}
		s.container = c
		s.endpoint = endpoint
	})

	if s.err != nil {
		t.Skipf("%s container not available: %v", image, s.err)
	}
	return s.endpoint
}
