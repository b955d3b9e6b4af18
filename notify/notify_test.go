package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/zhubert/taskspace/exec"
	"github.com/zhubert/taskspace/logger"
)

func TestMain(m *testing.M) {
	logger.Reset()
	logger.Init(os.DevNull)

	code := m.Run()

	logger.Reset()
	os.Exit(code)
}

// Compile-time interface checks.
var (
	_ Notifier = (*Slack)(nil)
	_ Notifier = (*Desktop)(nil)
	_ Notifier = (*Log)(nil)
	_ Notifier = (*Dispatcher)(nil)
)

type recorder struct {
	name string
	err  error
	got  []Notification
}

func (r *recorder) Name() string               { return r.name }
func (r *recorder) Capabilities() Capabilities { return Capabilities{Links: true} }
func (r *recorder) Send(_ context.Context, n Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestDispatcher_ContinuesPastFailures(t *testing.T) {
	bad := &recorder{name: "bad", err: errors.New("boom")}
	good := &recorder{name: "good"}
	d := NewDispatcher(bad, nil, good)

	if d.Len() != 2 {
		t.Errorf("nil notifiers should be skipped, Len = %d", d.Len())
	}
	err := d.Send(context.Background(), Notification{Title: "PR approved"})
	if err == nil || !strings.Contains(err.Error(), "bad: boom") {
		t.Errorf("expected joined failure, got %v", err)
	}
	if len(good.got) != 1 {
		t.Error("later notifiers must still receive the notification")
	}
	if !d.Capabilities().Links {
		t.Error("capabilities should be the union")
	}
}

func TestDispatcher_DeliversInOrderWithoutLoggingFailures(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "notify.log")
	logger.Reset()
	if err := logger.Init(logPath); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		logger.Reset()
		logger.Init(os.DevNull)
	})

	var order []string
	first := &orderedNotifier{name: "first", order: &order, err: errors.New("webhook down")}
	second := &orderedNotifier{name: "second", order: &order}
	if err := NewDispatcher(first, second).Send(context.Background(), Notification{Title: "CI failed"}); err == nil {
		t.Fatal("expected the first notifier's failure")
	}
	if !slices.Equal(order, []string{"first", "second"}) {
		t.Errorf("delivery order = %v", order)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "webhook down") {
		t.Errorf("dispatcher logged a failure the caller will log:\n%s", data)
	}
}

type orderedNotifier struct {
	name  string
	order *[]string
	err   error
}

func (o *orderedNotifier) Name() string               { return o.name }
func (o *orderedNotifier) Capabilities() Capabilities { return Capabilities{} }
func (o *orderedNotifier) Send(context.Context, Notification) error {
	*o.order = append(*o.order, o.name)
	return o.err
}

func TestRegistry(t *testing.T) {
	names := Available()
	for _, want := range []string{"log", "slack", "desktop"} {
		if !slices.Contains(names, want) {
			t.Errorf("Available() missing %q: %v", want, names)
		}
	}

	if _, err := New("slack", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("slack without webhook: %v", err)
	}
	n, err := New("slack", map[string]string{"webhook_url": "https://hooks.example/x"})
	if err != nil || n.Name() != "slack" {
		t.Errorf("New(slack) = %v, %v", n, err)
	}
	if _, err := New("pager", nil); err == nil {
		t.Error("unknown notifier should fail")
	}

	defer func() {
		if recover() == nil {
			t.Error("duplicate Register should panic")
		}
	}()
	Register("log", nil)
}

func TestSlack_Send(t *testing.T) {
	var payload slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("bad payload: %v", err)
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	err := NewSlack(srv.URL).Send(context.Background(), Notification{
		Title:   "CI failed",
		Message: "api #7",
		Level:   LevelError,
		Source:  SourceCIFailed,
		URL:     "https://github.com/acme/api/pull/7",
		TaskID:  "T-1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(payload.Blocks) != 3 || payload.Blocks[0].Text.Text != "[FAIL] CI failed" {
		t.Errorf("unexpected blocks %+v", payload.Blocks)
	}
	if !strings.Contains(payload.Blocks[1].Text.Text, "<https://github.com/acme/api/pull/7|") {
		t.Errorf("section should link the PR: %q", payload.Blocks[1].Text.Text)
	}
}

func TestSlack_Errors(t *testing.T) {
	if err := NewSlack("").Send(context.Background(), Notification{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer srv.Close()
	err := NewSlack(srv.URL).Send(context.Background(), Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Errorf("expected API error, got %v", err)
	}
}

func TestDesktop_Commands(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	d := NewDesktop(mock)
	n := Notification{Title: "Approved", Message: `api "7"`, Level: LevelError}

	d.goos = "linux"
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}
	d.goos = "darwin"
	if err := d.Send(context.Background(), n); err != nil {
		t.Fatal(err)
	}

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].Name != "notify-send" || !slices.Contains(calls[0].Args, "--urgency=critical") {
		t.Errorf("linux call = %+v", calls[0])
	}
	if calls[1].Name != "osascript" || !strings.Contains(calls[1].Args[1], `"api \"7\""`) {
		t.Errorf("darwin call = %+v", calls[1])
	}

	d.goos = "plan9"
	if err := d.Send(context.Background(), n); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("unsupported OS: %v", err)
	}
}

func TestDesktop_CommandFailure(t *testing.T) {
	mock := exec.NewMockExecutor(nil)
	mock.AddPrefixMatch("notify-send", nil, exec.MockResponse{Stderr: []byte("no dbus"), Err: errors.New("exit status 1")})
	d := NewDesktop(mock)
	d.goos = "linux"
	if err := d.Send(context.Background(), Notification{Title: "x"}); err == nil || !strings.Contains(err.Error(), "no dbus") {
		t.Errorf("expected failure with output, got %v", err)
	}
}
