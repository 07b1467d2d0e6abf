package influxdb_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/config"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/influxdb"
)

// fakeInflux answers the ping and write endpoints of the InfluxDB v2 API.
type fakeInflux struct {
	*httptest.Server
	mu     sync.Mutex
	lines  []string
	status int
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{status: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body)
			f.mu.Lock()
			f.lines = append(f.lines, strings.Split(strings.TrimSpace(string(body)), "\n")...)
			status := f.status
			f.mu.Unlock()
			w.WriteHeader(status)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) Lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.lines))
	copy(out, f.lines)
	return out
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "connectd",
		Bucket:        "telemetry",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func waitForLines(t *testing.T, f *fakeInflux, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		lines := f.Lines()
		if len(lines) >= n {
			return lines
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %d lines, want %d", len(lines), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestConnect_Disabled(t *testing.T) {
	_, err := influxdb.Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := influxdb.Connect(testConfig(url))
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_HealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteCommandAndPoll(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client.WriteCommand(influxdb.CommandPoint{
		DeviceID: "d1", Model: "UC-Display-7", Action: "set_volume", Result: "accepted",
		Source: "api", Duration: 40 * time.Millisecond, Time: at,
	})
	client.WritePoll(influxdb.PollPoint{Success: false, Duration: time.Second, Time: at})
	client.Flush()

	lines := waitForLines(t, f, 2)
	joined := strings.Join(lines, "\n")
	for _, want := range []string{
		"command,action=set_volume,device_id=d1,model=UC-Display-7,result=accepted,source=api",
		"duration_ms=40",
		"poll,result=error",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("line protocol missing %q:\n%s", want, joined)
		}
	}
}

func TestWrite_ErrorCallback(t *testing.T) {
	f := newFakeInflux(t)
	f.status = http.StatusBadRequest

	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	errCh := make(chan error, 1)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WritePoll(influxdb.PollPoint{Success: true})
	client.Flush()

	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("write error was not reported")
	}
}

func TestWrite_AfterCloseIsNoop(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(testConfig(f.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WriteCommand(influxdb.CommandPoint{DeviceID: "d1", Action: "reboot", Result: "accepted"})
	client.Flush()

	time.Sleep(50 * time.Millisecond)
	if n := len(f.Lines()); n != 0 {
		t.Errorf("lines after Close = %d, want 0", n)
	}
}
