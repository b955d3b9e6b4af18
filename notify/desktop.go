package notify

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/zhubert/taskspace/exec"
)

// Desktop raises an OS notification with notify-send on Linux or osascript
// on macOS.
type Desktop struct {
	executor exec.CommandExecutor
	goos     string
}

// NewDesktop returns a Desktop notifier. A nil executor runs real commands.
func NewDesktop(executor exec.CommandExecutor) *Desktop {
	if executor == nil {
		executor = exec.NewRealExecutor()
	}
	return &Desktop{executor: executor, goos: runtime.GOOS}
}

func (d *Desktop) Name() string { return "desktop" }

func (d *Desktop) Capabilities() Capabilities { return Capabilities{} }

func (d *Desktop) Send(ctx context.Context, n Notification) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	name, args, err := d.command(n)
	if err != nil {
		return err
	}
	if out, err := d.executor.CombinedOutput(ctx, "", name, args...); err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, out)
	}
	return nil
}

func (d *Desktop) command(n Notification) (string, []string, error) {
	switch d.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", strconv.Quote(n.Message), strconv.Quote("taskspace: "+n.Title))
		return "osascript", []string{"-e", script}, nil
	case "linux", "freebsd", "openbsd":
		urgency := "normal"
		if n.Level == LevelError {
			urgency = "critical"
		}
		return "notify-send", []string{"--app-name=taskspace", "--urgency=" + urgency, n.Title, n.Message}, nil
	default:
		return "", nil, fmt.Errorf("desktop notifications unsupported on %s: %w", d.goos, ErrNotConfigured)
	}
}
