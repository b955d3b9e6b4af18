package worktree

import (
	"os"
	"testing"

	"github.com/zhubert/taskspace/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}
