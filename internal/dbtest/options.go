package dbtest

import (
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/wait"
)

// containerOptions prepends a logger bound to the given [testing.TB] to the
// provided customizers, so container lifecycle events land in the test log.
func containerOptions(tb testing.TB, opts ...testcontainers.ContainerCustomizer) []testcontainers.ContainerCustomizer {
	customizers := make([]testcontainers.ContainerCustomizer, 0, len(opts)+1)
	customizers = append(customizers, testcontainers.WithLogger(log.TestLogger(tb)))
	return append(customizers, opts...)
}

// WithWaitForExposedPort sets the wait strategy for a container to wait for
// its exposed port to be available.
//
// Use this function with containers that do not already wait for their
// exposed port. Sometimes, tests using such containers fail spontaneously due
// to the test running before the container is actually ready.
//
// Usually, database containers only expose a single port. Do not use this
// function with database containers exposing more than a single port.
func WithWaitForExposedPort() testcontainers.CustomizeRequestOption {
	return func(req *testcontainers.GenericContainerRequest) error {
		strategies := []wait.Strategy{wait.ForExposedPort()}
		// Extend an already set wait strategy.
		if req.WaitingFor != nil {
			strategies = append(strategies, req.WaitingFor)
		}
		return testcontainers.WithWaitStrategy(strategies...).Customize(req)
	}
}
