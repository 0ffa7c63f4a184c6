package httpserver

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain ensures servers started in tests do not leak goroutines.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}
