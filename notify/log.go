package notify

import (
	"context"

	"github.com/zhubert/taskspace/logger"
)

// Log writes notifications to the application log. It is always enabled so
// the log records every event even when no other channel is configured.
type Log struct{}

func NewLog() *Log { return &Log{} }

func (*Log) Name() string { return "log" }

func (*Log) Capabilities() Capabilities { return Capabilities{} }

func (*Log) Send(_ context.Context, n Notification) error {
	logger.WithTask(n.TaskID).Info("notification",
		"component", "notify",
		"source", n.Source,
		"level", n.Level,
		"title", n.Title,
		"message", n.Message,
		"url", n.URL,
	)
	return nil
}
