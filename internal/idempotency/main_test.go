package idempotency

import (
	"os"
	"testing"

	"github.com/hazinapay/backend/internal/testutil/dblock"
)

func TestMain(m *testing.M) {
	release := dblock.Acquire()
	code := m.Run()
	release()
	os.Exit(code)
}
