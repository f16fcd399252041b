package stubapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/juniordebug/internal/api"
	"github.com/and161185/juniordebug/internal/errs"
	"github.com/and161185/juniordebug/internal/model"
	"github.com/and161185/juniordebug/internal/service"
)

type providerBody struct {
	Provider string `json:"provider,omitempty"`
}

type keyBody struct {
	APIKey string `json:"api_key"`
}

type keyStatusBody struct {
	Status string `json:"status"`
	APIKey string `json:"api_key,omitempty"`
}

const statusNotFound = "not_found"

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req model.AnalyzeRequest
	if err := decodeJSON(w, r, maxAnalyzeBody, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	resp, err := s.analyzer.Analyze(r.Context(), req)
	if err != nil {
		if errors.Is(err, errs.ErrValidation) {
			writeDetail(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.log.Error("analyze", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTestKey(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	p, err := s.keys.Provider(r.Context(), c.UserID)
	if err != nil {
		s.log.Error("detect provider", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to read API key")
		return
	}
	writeJSON(w, http.StatusOK, providerBody{Provider: p})
}

func (s *Server) handleSaveKey(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	var in keyBody
	if err := decodeJSON(w, r, maxJSONBody, &in); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed request body")
		return
	}
	masked, err := s.keys.Save(r.Context(), c.UserID, in.APIKey)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, keyBody{APIKey: masked})
	case errors.Is(err, errs.ErrValidation), errors.Is(err, service.ErrKeyRejected):
		writeDetail(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("save key", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to save API key")
	}
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	masked, err := s.keys.Masked(r.Context(), c.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, keyStatusBody{Status: api.StatusOK, APIKey: masked})
	case errors.Is(err, errs.ErrNotFound):
		writeJSON(w, http.StatusOK, keyStatusBody{Status: statusNotFound})
	default:
		s.log.Error("get key", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to read API key")
	}
}

func (s *Server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	c, _ := callerFrom(r.Context())
	err := s.keys.Delete(r.Context(), c.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	case errors.Is(err, errs.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "API key not found")
	default:
		s.log.Error("delete key", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, "failed to delete API key")
	}
}
