package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	qrcode "github.com/skip2/go-qrcode"

	"redlight/internal/domain"
)

const qrSize = 256

// Response is a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HealthResponse is the response for health check
type HealthResponse struct {
	Status string `json:"status"`
}

// RoundsResponse lists the finished rounds, oldest first
type RoundsResponse struct {
	Rounds []domain.Record `json:"rounds"`
}

// handleHealth handles GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, &HealthResponse{
		Status: "ok",
	})
}

// handleStats handles GET /api/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.sendSuccess(w, s.host.Stats())
}

// handleListRounds handles GET /api/rounds
func (s *Server) handleListRounds(w http.ResponseWriter, r *http.Request) {
	records, err := s.records.Records()
	if err != nil {
		s.logger.Error("failed to read results log", "error", err)
		s.sendError(w, http.StatusInternalServerError, "LOG_UNREADABLE", "Failed to read the results log")
		return
	}
	s.sendSuccess(w, &RoundsResponse{Rounds: records})
}

// handleNewRound handles POST /api/rounds
func (s *Server) handleNewRound(w http.ResponseWriter, r *http.Request) {
	if err := s.host.RequestNewRound(); err != nil {
		if errors.Is(err, domain.ErrInvalidPhase) {
			s.sendError(w, http.StatusConflict, "ROUND_IN_PROGRESS", "The current round is not finished")
			return
		}
		s.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.sendStatus(w, http.StatusAccepted, s.host.Stats())
}

// handleJoinCode handles GET /api/join.png: a QR code of the address
// players dial
func (s *Server) handleJoinCode(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(s.joinAddress(r), qrcode.Medium, qrSize)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "QR_FAILED", "Failed to generate the join code")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// joinAddress is the game host address, with a wildcard listen host
// replaced by the host the request reached us on
func (s *Server) joinAddress(r *http.Request) string {
	host := s.config.Server.Host
	if host == "" || net.ParseIP(host).IsUnspecified() {
		host = r.Host
		if h, _, err := net.SplitHostPort(r.Host); err == nil {
			host = h
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(s.config.Server.Port))
}

// sendSuccess sends a successful JSON response
func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	s.sendStatus(w, http.StatusOK, data)
}

func (s *Server) sendStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: true,
		Data:    data,
	})
}

// sendError sends an error JSON response
func (s *Server) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(&Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	})
}
