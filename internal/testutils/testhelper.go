package testutils

import (
	"io"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger writing to the test log.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		T:      t,
		Logger: NewTestLogger(t),
	}
}

// NewTestLogger returns a debug-level logger that only prints in verbose runs.
// Background goroutines may outlive the test, so output does not go through t.Log.
func NewTestLogger(t testing.TB) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true, TimestampFormat: time.StampMilli})
	if testing.Verbose() {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
	return logger
}

// Eventually waits for cond with the default polling used across the test suites.
func (h *TestHelper) Eventually(cond func() bool, msgAndArgs ...interface{}) bool {
	return assert.Eventually(h.T, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
