package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/influxdb"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

func record(action capability.Action, err error) dispatch.Record {
	return dispatch.Record{
		Command:  dispatch.Command{ID: "c1", DeviceID: "d1", Action: action, Source: "mqtt"},
		Outcome:  dispatch.Outcome{Device: device.Device{ID: "d1", Model: "UC-Display-7"}},
		Err:      err,
		Started:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration: 25 * time.Millisecond,
	}
}

func TestCollector_RecordCommand(t *testing.T) {
	c := New(Sources{})
	ctx := context.Background()

	c.RecordCommand(ctx, record(capability.ActionSetVolume, nil))
	c.RecordCommand(ctx, record(capability.ActionSetVolume, nil))
	c.RecordCommand(ctx, record(capability.ActionReboot, controller.ErrUnreachable))

	if got := testutil.ToFloat64(c.commands.WithLabelValues("set_volume", "accepted")); got != 2 {
		t.Errorf("set_volume accepted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.commands.WithLabelValues("reboot", "unreachable")); got != 1 {
		t.Errorf("reboot unreachable = %v, want 1", got)
	}
}

func TestCollector_ObservePoll(t *testing.T) {
	c := New(Sources{})
	ctx := context.Background()

	c.ObservePoll(ctx, poller.Result{Duration: time.Second})
	c.ObservePoll(ctx, poller.Result{Err: errors.New("boom")})

	if got := testutil.ToFloat64(c.polls.WithLabelValues("success")); got != 1 {
		t.Errorf("success polls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.polls.WithLabelValues("error")); got != 1 {
		t.Errorf("error polls = %v, want 1", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New(Sources{
		Devices: func() device.Stats { return device.Stats{Total: 3, Online: 2, Offline: 1} },
		Logins:  func() uint64 { return 4 },
	})
	c.RecordCommand(context.Background(), record(capability.ActionPowerOn, nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		`connectd_commands_total{action="power_on",result="accepted"} 1`,
		`connectd_devices{state="online"} 2`,
		`connectd_devices{state="offline"} 1`,
		`connectd_controller_logins_total 4`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestCollector_Middleware(t *testing.T) {
	c := New(Sources{})
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/devices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	for _, id := range []string{"a", "b"} {
		resp, err := http.Get(srv.URL + "/devices/" + id)
		if err != nil {
			t.Fatalf("GET error = %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("/devices/{id}", "GET", "404")); got != 2 {
		t.Errorf("requests for route pattern = %v, want 2", got)
	}
}

type capturePoints struct {
	commands []influxdb.CommandPoint
	polls    []influxdb.PollPoint
}

func (c *capturePoints) WriteCommand(p influxdb.CommandPoint) { c.commands = append(c.commands, p) }
func (c *capturePoints) WritePoll(p influxdb.PollPoint)       { c.polls = append(c.polls, p) }

func TestInfluxSink(t *testing.T) {
	w := &capturePoints{}
	sink := NewInfluxSink(w)
	ctx := context.Background()

	sink.RecordCommand(ctx, record(capability.ActionReboot, controller.ErrUnreachable))
	sink.ObservePoll(ctx, poller.Result{Devices: 4, Events: 1, Duration: time.Second})

	if len(w.commands) != 1 {
		t.Fatalf("command points = %d, want 1", len(w.commands))
	}
	got := w.commands[0]
	if got.Action != "reboot" || got.Result != "unreachable" || got.ErrorCode != dispatch.CodeUnreachable {
		t.Errorf("command point = %+v", got)
	}
	if got.Model != "UC-Display-7" || got.Source != "mqtt" {
		t.Errorf("command point tags = %+v", got)
	}
	if len(w.polls) != 1 || !w.polls[0].Success || w.polls[0].Devices != 4 {
		t.Errorf("poll points = %+v", w.polls)
	}
}
