package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhisek/misconcept/internal/analyzer"
	"github.com/abhisek/misconcept/internal/errs"
)

type healthResponse struct {
	OK              bool         `json:"ok"`
	Embedder        string       `json:"embedder"`
	Taxonomy        taxonomyInfo `json:"taxonomy"`
	CalibrationID   *uuid.UUID   `json:"calibration_id,omitempty"`
	CalibratedItems int          `json:"calibrated_items"`
	UptimeSeconds   int64        `json:"uptime_seconds"`
}

type taxonomyInfo struct {
	GenerationID uuid.UUID `json:"generation_id"`
	Clusters     int       `json:"clusters"`
	Dimension    int       `json:"dimension"`
	CreatedAt    time.Time `json:"created_at"`
}

type predictRequest struct {
	UserAnswer string `json:"user_answer_text"`
	ItemID     string `json:"item_id,omitempty"`
}

type estimateRequest struct {
	Question string `json:"question_text"`
	ItemID   string `json:"item_id,omitempty"`
}

// health handles GET /health.
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	tax := s.svc.Taxonomy()
	resp := healthResponse{
		OK:       true,
		Embedder: s.svc.Embedder().Name(),
		Taxonomy: taxonomyInfo{
			GenerationID: tax.ID,
			Clusters:     tax.Len(),
			Dimension:    tax.Dimension,
			CreatedAt:    tax.CreatedAt,
		},
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	if cal := s.svc.Calibration(); cal != nil {
		id := cal.ID
		resp.CalibrationID = &id
		resp.CalibratedItems = len(cal.Items)
	}
	respondJSON(w, r, http.StatusOK, resp)
}

// analyze handles POST /api/analyze.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzer.AnalyzeRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Analyze(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

// predictMisconception handles POST /api/predict_misconception.
func (s *Server) predictMisconception(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decode(w, r, &req) {
		return
	}
	pred, err := s.svc.PredictMisconception(r.Context(), req.UserAnswer, req.ItemID)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, pred)
}

// estimateDifficulty handles POST /api/estimate_difficulty.
func (s *Server) estimateDifficulty(w http.ResponseWriter, r *http.Request) {
	var req estimateRequest
	if !decode(w, r, &req) {
		return
	}
	est, err := s.svc.EstimateDifficulty(r.Context(), req.Question, req.ItemID)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, est)
}

// cluster handles POST /api/cluster.
func (s *Server) cluster(w http.ResponseWriter, r *http.Request) {
	var req analyzer.ClusterRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.svc.Cluster(r.Context(), req)
	if err != nil {
		fail(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, res)
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "request body exceeds maximum allowed size")
			return false
		}
		respondError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// fail maps an analyzer error to a problem response.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var shape *errs.InputShapeError
	switch {
	case errors.As(err, &shape):
		respondError(w, r, http.StatusUnprocessableEntity, shape.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		respondError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		respondError(w, r, http.StatusInternalServerError, "internal error")
	}
}
