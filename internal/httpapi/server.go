package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BrandonDHaskell/Occupant/server/internal/metrics"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/service"
	"github.com/BrandonDHaskell/Occupant/server/internal/occupant/types"
	"github.com/BrandonDHaskell/Occupant/server/internal/report"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type Dependencies struct {
	Logger    zerolog.Logger
	Addr      string
	CheckIn   *service.CheckInService
	Occupancy *service.OccupancyService
	Stations  *service.StationRegistry
	Location  *time.Location // facility time zone, used by the export

	// Ready reports whether the stores are reachable.  nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	httpServer *http.Server
	logger     zerolog.Logger
	checkIn    *service.CheckInService
	occupancy  *service.OccupancyService
	stations   *service.StationRegistry
	location   *time.Location
	ready      func(ctx context.Context) error
}

func NewServer(d Dependencies) *Server {
	s := &Server{
		logger:    d.Logger.With().Str("component", "httpapi").Logger(),
		checkIn:   d.CheckIn,
		occupancy: d.Occupancy,
		stations:  d.Stations,
		location:  d.Location,
		ready:     d.Ready,
	}
	if s.location == nil {
		s.location = time.UTC
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/check-in", s.handleCheckIn)
		r.Post("/check-out", s.handleCheckOut)
		r.Get("/pending-exits", s.handlePendingExits)
		r.Get("/occupancy", s.handleOccupancy)
		r.Get("/attendance/export", s.handleExport)
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           otelhttp.NewHandler(r, "occupant.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("not ready")
			writeError(w, http.StatusServiceUnavailable, "not_ready", "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req types.CheckInRequest
	proto := isProtobuf(r)
	if proto {
		msg, err := readStruct(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req = checkInRequestFromStruct(msg)
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	sess := s.stations.Session(r.Context(), req.StationID)
	if !sess.Allow() {
		metrics.IncRateLimited()
		writeError(w, http.StatusTooManyRequests, service.ReasonRateLimited, "too many requests from this station")
		return
	}

	resp, err := s.checkIn.CheckIn(r.Context(), sess.Guard, req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidMemberID):
			writeError(w, http.StatusBadRequest, "invalid_member_id", err.Error())
		case errors.Is(err, service.ErrInvalidChannel):
			writeError(w, http.StatusBadRequest, "invalid_source_channel", err.Error())
		default:
			s.logger.Error().Err(err).Msg("check-in error")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	if proto {
		writeStruct(w, http.StatusOK, checkInResponseToStruct(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckOut(w http.ResponseWriter, r *http.Request) {
	var req types.CheckOutRequest
	proto := isProtobuf(r)
	if proto {
		msg, err := readStruct(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_proto", "invalid protobuf body")
			return
		}
		req = checkOutRequestFromStruct(msg)
	} else if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	if req.StationID != "" {
		sess := s.stations.Session(r.Context(), req.StationID)
		if !sess.Allow() {
			metrics.IncRateLimited()
			writeError(w, http.StatusTooManyRequests, service.ReasonRateLimited, "too many requests from this station")
			return
		}
	}

	resp, err := s.checkIn.CheckOut(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCheckOut) {
			writeError(w, http.StatusBadRequest, "invalid_check_out", err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("check-out error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	if proto {
		writeStruct(w, http.StatusOK, checkOutResponseToStruct(resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePendingExits(w http.ResponseWriter, r *http.Request) {
	resp, err := s.occupancy.PendingExits(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("pending exits error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	s.respond(w, r, resp)
}

func (s *Server) handleOccupancy(w http.ResponseWriter, r *http.Request) {
	resp, err := s.occupancy.Snapshot(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("occupancy error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	s.respond(w, r, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	day, recs, err := s.occupancy.DayRecords(r.Context(), r.URL.Query().Get("day"))
	if err != nil {
		if errors.Is(err, service.ErrInvalidDay) {
			writeError(w, http.StatusBadRequest, "invalid_day", err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("export error")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	// Render fully before writing headers so a failure can still be a 500.
	var buf bytes.Buffer
	if err := report.WriteDay(&buf, service.ComputeDayStats(day, recs), recs, s.location); err != nil {
		s.logger.Error().Err(err).Str("day", day).Msg("render export")
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="attendance-%s.xlsx"`, day))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// respond writes v as a protobuf Struct when the client asks for one and as
// JSON otherwise.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, v any) {
	if acceptsProtobuf(r) {
		msg, err := toStruct(v)
		if err != nil {
			s.logger.Error().Err(err).Msg("encode protobuf response")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeStruct(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
