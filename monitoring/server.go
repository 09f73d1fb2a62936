package monitoring

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"adampoller"
	"adampoller/config"
)

// Server is the HTTP surface: JSON health/device endpoints, an SSE live
// stream, and a Prometheus /metrics endpoint, mirroring the mux-of-handlers
// shape used for the capture service's own monitoring server.
type Server struct {
	svc    *adampoller.Service
	logger *slog.Logger
	mux    *http.ServeMux

	username string
	password string
}

// NewServer builds a Server. If username is non-empty, every route except
// /metrics requires HTTP basic auth.
func NewServer(svc *adampoller.Service, logger *slog.Logger, username, password string) *Server {
	s := &Server{svc: svc, logger: logger, username: username, password: password}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(svc, svc))

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.auth(s.handleDashboard))
	mux.HandleFunc("/api/health", s.auth(s.handleAllHealth))
	mux.HandleFunc("/api/health/device", s.auth(s.handleDeviceHealth))
	mux.HandleFunc("/api/devices", s.auth(s.handleDevices))
	mux.HandleFunc("/api/devices/enable", s.auth(s.handleEnable))
	mux.HandleFunc("/api/devices/disable", s.auth(s.handleDisable))
	mux.HandleFunc("/api/stream", s.auth(s.handleStream))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	s.mux = mux

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.username == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != s.username || pass != s.password {
			w.Header().Set("WWW-Authenticate", `Basic realm="adampoller"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAllHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.svc.GetAllHealth())
}

func (s *Server) handleDeviceHealth(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id parameter", http.StatusBadRequest)
		return
	}
	h, ok := s.svc.GetHealth(id)
	if !ok {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, h)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var cfg config.DeviceConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.svc.AddDevice(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	case http.MethodPut:
		var cfg config.DeviceConfig
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.svc.UpdateDevice(cfg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if err := s.svc.RemoveDevice(id); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := s.svc.EnableDevice(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if err := s.svc.DisableDevice(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleStream streams readings and health records as they're published,
// one SSE "event:" frame per record. The client.done/flusher/header shape
// mirrors the capture service's own SSE endpoint.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")

	readings := s.svc.SubscribeReadings()
	defer readings.Unsubscribe()
	healths := s.svc.SubscribeHealth()
	defer healths.Unsubscribe()

	fmt.Fprintf(w, "event: connected\ndata: {}\n\n")
	flusher.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(20 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings.Chan():
			if !ok {
				return
			}
			writeSSE(w, flusher, "reading", reading)
		case h, ok := <-healths.Chan():
			if !ok {
				return
			}
			writeSSE(w, flusher, "health", h)
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head><title>adampoller</title></head>
<body>
<h1>adampoller device status</h1>
<table id="devices"><thead><tr><th>Device</th><th>Status</th><th>Consecutive Failures</th><th>Success Rate</th></tr></thead><tbody></tbody></table>
<script>
async function refresh() {
  const res = await fetch('/api/health');
  const devices = await res.json();
  const body = document.querySelector('#devices tbody');
  body.innerHTML = '';
  for (const d of devices) {
    const row = document.createElement('tr');
    const rate = d.TotalReads > 0 ? (d.SuccessfulReads / d.TotalReads * 100).toFixed(1) + '%' : '-';
    row.innerHTML = '<td>' + d.DeviceID + '</td><td>' + d.Status + '</td><td>' + d.ConsecutiveFailures + '</td><td>' + rate + '</td>';
    body.appendChild(row);
  }
}
setInterval(refresh, 5000);
refresh();
</script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, dashboardHTML)
}
