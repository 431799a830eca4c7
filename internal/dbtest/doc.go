/*
Package dbtest spins up throwaway database containers for tests. It wraps the
testcontainers-go library with the small amount of policy our test-suites
share: honouring '-short', running container tests in parallel, and tearing
everything down through [testing.T] cleanups.

Use this package whenever a test needs a database and the deployment details
of that database do not matter. Tests that depend on a specific configuration
should call the testcontainers-go modules directly instead.

Developing locally with Docker, you may want to poke at the database after a
test failure. Set the Inspect flag to keep the container alive:

	go test -dbtest.inspect

This package is intended to be used in tests only. It is not suitable for
production use.
*/
package dbtest
