package flights_api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/FlightBox/internal/broker/messages"
	"github.com/BearBump/FlightBox/internal/models"
	"github.com/BearBump/FlightBox/internal/services/flights"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
)

// maxBodyBytes ограничивает тело запроса на приём и регистрацию.
const maxBodyBytes = 1 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

type FlightsAPI struct {
	svc     *flights.Service
	storage string
	pinger  Pinger
}

// New wires the REST handlers. pinger may be nil, then health only reports the driver.
func New(svc *flights.Service, storageDriver string, pinger Pinger) *FlightsAPI {
	return &FlightsAPI{svc: svc, storage: storageDriver, pinger: pinger}
}

// Register mounts every route on the gateway mux.
func (a *FlightsAPI) Register(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		h       runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/tracking/update", a.IngestTracking},
		{http.MethodGet, "/api/flights", a.ListFlights},
		{http.MethodPut, "/api/flights/{flight_id}", a.RegisterFlight},
		{http.MethodGet, "/api/flights/{flight_id}/position", a.GetPosition},
		{http.MethodGet, "/api/flights/{flight_id}/path", a.GetPath},
		{http.MethodPost, "/api/flights/{flight_id}/complete", a.CompleteFlight},
		{http.MethodGet, "/api/flights/{flight_id}/history", a.GetHistory},
		{http.MethodGet, "/api/flights/{flight_id}/history/geojson", a.GetHistoryGeoJSON},
		{http.MethodGet, "/api/health", a.Health},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.h); err != nil {
			return errors.Wrapf(err, "register %s %s", rt.method, rt.pattern)
		}
	}
	return nil
}

func (a *FlightsAPI) IngestTracking(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var m messages.PositionReported
	if err := decodeBody(w, r, &m); err != nil {
		writeError(w, r, err)
		return
	}
	ack, err := a.svc.Ingest(r.Context(), m)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "success",
		"message":   "Tracking data received",
		"flight_id": ack.FlightID,
		"timestamp": ack.Timestamp,
	})
}

func (a *FlightsAPI) ListFlights(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	out, err := a.svc.ListFlights(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flights": out})
}

func (a *FlightsAPI) RegisterFlight(w http.ResponseWriter, r *http.Request, params map[string]string) {
	var reg models.FlightRegistration
	if err := decodeBody(w, r, &reg); err != nil {
		writeError(w, r, err)
		return
	}
	// id из пути главнее id в теле
	reg.FlightID = params["flight_id"]
	st, err := a.svc.RegisterFlight(r.Context(), reg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *FlightsAPI) GetPosition(w http.ResponseWriter, r *http.Request, params map[string]string) {
	q := r.URL.Query()
	var pq flights.PositionQuery

	if raw := q.Get("timestamp"); raw != "" {
		at, err := parseTimestamp(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		pq.At = &at
	}
	pq.IncludePath = strings.EqualFold(q.Get("include_path"), "true")
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	pq.PathLimit = limit

	snap, err := a.svc.GetPosition(r.Context(), params["flight_id"], pq)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *FlightsAPI) GetPath(w http.ResponseWriter, r *http.Request, params map[string]string) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	flightID := params["flight_id"]
	path, err := a.svc.RecentPath(r.Context(), flightID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"flight_id": flightID, "path": path})
}

func (a *FlightsAPI) CompleteFlight(w http.ResponseWriter, r *http.Request, params map[string]string) {
	res, err := a.svc.CompleteFlight(r.Context(), params["flight_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *FlightsAPI) GetHistory(w http.ResponseWriter, r *http.Request, params map[string]string) {
	l, err := a.svc.FlightHistory(r.Context(), params["flight_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *FlightsAPI) GetHistoryGeoJSON(w http.ResponseWriter, r *http.Request, params map[string]string) {
	b, err := a.svc.FlightHistoryGeoJSON(r.Context(), params["flight_id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (a *FlightsAPI) Health(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if a.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.pinger.Ping(ctx); err != nil {
			slog.Warn("health: storage ping failed", "storage", a.storage, "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "storage": a.storage})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "storage": a.storage})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return models.NewValidationError("body", "invalid JSON body: %v", err)
	}
	return nil
}

func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, models.NewValidationError("timestamp", "timestamp must be RFC3339 with a timezone: %q", raw)
	}
	return t.UTC(), nil
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, models.NewValidationError("limit", "limit must be a positive integer: %q", raw)
	}
	return n, nil
}

// errorCode maps domain errors onto grpc codes; the gateway turns those into HTTP statuses.
func errorCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case models.IsNotFound(err):
		return codes.NotFound
	case errors.Is(err, models.ErrRateLimited):
		return codes.ResourceExhausted
	}
	if _, ok := models.AsValidationError(err); ok {
		return codes.InvalidArgument
	}
	return codes.Internal
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errorCode(err)
	status := runtime.HTTPStatusFromCode(code)

	body := map[string]string{}
	switch code {
	case codes.InvalidArgument:
		ve, _ := models.AsValidationError(err)
		body["error"] = ve.Message
		body["field"] = ve.Field
	case codes.NotFound:
		body["error"] = "Flight not found"
	case codes.ResourceExhausted:
		body["error"] = err.Error()
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		body["error"] = "internal error"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
