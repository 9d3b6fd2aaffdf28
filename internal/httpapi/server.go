package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"dealerpilot/internal/abtest"
	"dealerpilot/internal/engage"
	"dealerpilot/internal/storage/sqlite"
)

// Server is the thin JSON boundary over the engagement pipeline. Payload
// validation happens here, before anything enters the pipeline, so a 400
// is always a caller mistake and a 5xx always a pipeline failure.
type Server struct {
	db       *sql.DB
	service  *engage.Service
	selector *abtest.Selector
	metrics  *abtest.Metrics
}

func NewServer(db *sql.DB, service *engage.Service, selector *abtest.Selector, metrics *abtest.Metrics) *Server {
	return &Server{db: db, service: service, selector: selector, metrics: metrics}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/inbound", s.handleInbound)
	mux.HandleFunc("POST /api/conversations/{id}/reply", s.handleReply)
	mux.HandleFunc("POST /api/conversations/{id}/handover", s.handleHandover)
	mux.HandleFunc("POST /api/variants", s.handleCreateVariant)
	mux.HandleFunc("POST /api/variants/{id}/control", s.handleSetControl)
	mux.HandleFunc("POST /api/variants/{id}/deactivate", s.handleDeactivateVariant)
	mux.HandleFunc("POST /api/experiments", s.handleCreateExperiment)
	mux.HandleFunc("POST /api/experiments/{id}/close", s.handleCloseExperiment)
	mux.HandleFunc("POST /api/metrics/{id}/success", s.handleMetricsSuccess)
	mux.HandleFunc("POST /api/metrics/{id}/rating", s.handleMetricsRating)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("httpapi encode err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return false
	}
	return true
}

type inboundBody struct {
	DealershipID    string `json:"dealership_id"`
	ConversationID  string `json:"conversation_id"`
	CustomerName    string `json:"customer_name"`
	CustomerContact string `json:"customer_contact"`
	Message         string `json:"message"`
	Channel         string `json:"channel"`
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	var body inboundBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DealershipID == "" || body.Message == "" {
		writeError(w, http.StatusBadRequest, "dealership_id and message are required")
		return
	}

	result, err := s.service.HandleInbound(r.Context(), engage.InboundRequest{
		DealershipID:    body.DealershipID,
		ConversationID:  body.ConversationID,
		CustomerName:    body.CustomerName,
		CustomerContact: body.CustomerContact,
		Message:         body.Message,
		Channel:         body.Channel,
	})
	if err != nil {
		log.Printf("httpapi inbound err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to process message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id":   result.ConversationID,
		"response":          result.ResponseText,
		"status":            result.Status,
		"escalation_reason": result.EscalationReason,
	})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result, err := s.service.HandleReply(r.Context(), r.PathValue("id"), body.Message)
	if err != nil {
		log.Printf("httpapi reply err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to process reply")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":          result.ResponseText,
		"should_escalate":   result.ShouldEscalate,
		"escalation_reason": result.EscalationReason,
	})
}

func (s *Server) handleHandover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	dossier, err := s.service.HandleHandoverRequest(r.Context(), r.PathValue("id"), body.Reason)
	if err != nil {
		log.Printf("httpapi handover err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to build handover dossier")
		return
	}
	writeJSON(w, http.StatusOK, dossier)
}

func (s *Server) handleCreateVariant(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DealershipID string `json:"dealership_id"`
		Name         string `json:"name"`
		Description  string `json:"description"`
		Template     string `json:"template"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DealershipID == "" || body.Name == "" || body.Template == "" {
		writeError(w, http.StatusBadRequest, "dealership_id, name and template are required")
		return
	}

	variant, err := abtest.CreateVariant(s.db, body.DealershipID, body.Name, body.Description, body.Template)
	if err != nil {
		log.Printf("httpapi create variant err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to create variant")
		return
	}
	writeJSON(w, http.StatusCreated, variant)
}

func (s *Server) handleSetControl(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DealershipID string `json:"dealership_id"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DealershipID == "" {
		writeError(w, http.StatusBadRequest, "dealership_id is required")
		return
	}

	if err := abtest.SetControl(s.db, body.DealershipID, r.PathValue("id")); err != nil {
		log.Printf("httpapi set control err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to set control variant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeactivateVariant(w http.ResponseWriter, r *http.Request) {
	if err := abtest.DeactivateVariant(s.db, r.PathValue("id")); err != nil {
		log.Printf("httpapi deactivate variant err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to deactivate variant")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type experimentBody struct {
	DealershipID string    `json:"dealership_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	StartAt      time.Time `json:"start_at"`
	EndAt        time.Time `json:"end_at"`
	Allocations  []struct {
		VariantID         string `json:"variant_id"`
		TrafficAllocation int    `json:"traffic_allocation"`
	} `json:"allocations"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var body experimentBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.DealershipID == "" || body.Name == "" || len(body.Allocations) == 0 {
		writeError(w, http.StatusBadRequest, "dealership_id, name and allocations are required")
		return
	}

	allocations := make([]abtest.Allocation, 0, len(body.Allocations))
	for _, a := range body.Allocations {
		allocations = append(allocations, abtest.Allocation{VariantID: a.VariantID, TrafficAllocation: a.TrafficAllocation})
	}
	exp, err := abtest.CreateExperiment(s.db, body.DealershipID, body.Name, body.Description, body.StartAt, body.EndAt, allocations)
	if err != nil {
		log.Printf("httpapi create experiment err=%v", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.selector.Invalidate(body.DealershipID)
	writeJSON(w, http.StatusCreated, exp)
}

func (s *Server) handleCloseExperiment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DealershipID string `json:"dealership_id"`
		Conclusion   string `json:"conclusion"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := abtest.CloseExperiment(s.db, r.PathValue("id"), body.Conclusion); err != nil {
		log.Printf("httpapi close experiment err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to close experiment")
		return
	}
	if body.DealershipID != "" {
		s.selector.Invalidate(body.DealershipID)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetricsSuccess(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WasSuccessful *bool `json:"was_successful"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.WasSuccessful == nil {
		writeError(w, http.StatusBadRequest, "was_successful is required")
		return
	}

	if err := s.metrics.UpdateSuccess(r.PathValue("id"), *body.WasSuccessful); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("httpapi metrics success err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to update metric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMetricsRating(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating int `json:"rating"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Rating < 1 || body.Rating > 5 {
		writeError(w, http.StatusBadRequest, "rating must be between 1 and 5")
		return
	}

	if err := s.metrics.UpdateRating(r.PathValue("id"), body.Rating); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Printf("httpapi metrics rating err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to update metric")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
