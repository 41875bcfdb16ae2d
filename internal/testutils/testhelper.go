package testutils

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultWait bounds how long tests wait for asynchronous session work.
const DefaultWait = 2 * time.Second

// DefaultTick is the polling interval used with DefaultWait.
const DefaultTick = 5 * time.Millisecond

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}
