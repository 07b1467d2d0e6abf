package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitchin999/unifi-connect-display/internal/auth"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermDeviceRead))

				r.Get("/devices", s.handleListDevices)
				r.Get("/devices/{id}", s.handleGetDevice)
				r.Get("/models", s.handleListModels)
				r.Get("/models/{model}", s.handleGetModel)
				r.Get("/playlists", s.handleListPlaylists)
				r.Get("/sites", s.handleListSites)

				r.Post("/auth/ws-ticket", s.handleWSTicket)
				r.Get("/ws", s.handleWebSocket)
			})

			r.With(s.requirePermission(auth.PermDeviceOperate)).
				Post("/devices/{id}/commands", s.handleCommand)

			r.With(s.requirePermission(auth.PermAuditRead)).
				Get("/audit", s.handleListAudit)
		})
	})

	return r
}

// healthResponse is the body of GET /api/v1/health.
type healthResponse struct {
	Status    string       `json:"status"`
	Version   string       `json:"version"`
	Devices   device.Stats `json:"devices"`
	Poll      *pollHealth  `json:"poll,omitempty"`
	WSClients int          `json:"ws_clients"`
	Auth      bool         `json:"auth"`
}

type pollHealth struct {
	Polls       uint64     `json:"polls"`
	Failures    uint64     `json:"failures"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}

// handleHealth reports "degraded" while the last controller poll failed.
// The endpoint always answers 200 so probes can read the body.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   s.version,
		Devices:   s.devices.Stats(),
		WSClients: s.hub.ClientCount(),
		Auth:      s.authEnabled(),
	}
	if s.pollStatus != nil {
		st := s.pollStatus()
		resp.Poll = newPollHealth(st)
		switch {
		case st.LastSuccess.IsZero() && st.LastError == "":
			resp.Status = "starting"
		case !st.Healthy():
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func newPollHealth(st poller.Status) *pollHealth {
	ph := &pollHealth{Polls: st.Polls, Failures: st.Failures, LastError: st.LastError}
	if !st.LastSuccess.IsZero() {
		last := st.LastSuccess.UTC()
		ph.LastSuccess = &last
	}
	return ph
}
