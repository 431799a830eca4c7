package dbtest

import (
	"flag"
	"os"
	"os/signal"
)

// Inspect keeps the database container of a failed test running so that its
// state can be examined by hand.
//
// The container survives this package's cleanup, but the testcontainers
// library will still reap it eventually. See their documentation for the
// reaper timeout.
var Inspect = flag.Bool("dbtest.inspect", false, "keep test container running for inspection after a failed test completes")

// waitForInspection blocks until the developer signals the end of their
// inspection session with a SIGINT (Ctrl+C).
func waitForInspection() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)
	<-c
}
