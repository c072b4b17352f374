package main

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/lychee-technology/registra"
	"go.uber.org/zap"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeBadRequest(w, "method not allowed")
		return
	}
	if err := s.store.Health(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeBadRequest(w, "method not allowed")
		return
	}
	ids, err := s.store.ListSchemas(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeSuccess(w, http.StatusOK, map[string]any{"schemas": ids})
}

// schemaHandler dispatches /schema/{id}, /schema/{id}/versions and
// /schema/{id}/compat.
func (s *Server) schemaHandler(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := s.logger.With(
		zap.String("request_id", requestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path))

	schemaID, action, err := parseSchemaPath(r.URL.Path)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	switch action {
	case "versions":
		if r.Method != http.MethodGet {
			writeBadRequest(w, "method not allowed")
			return
		}
		s.handleListVersions(w, r, schemaID)
	case "compat":
		if r.Method != http.MethodPost {
			writeBadRequest(w, "method not allowed")
			return
		}
		s.handleValidateData(w, r, schemaID, logger)
	default:
		switch r.Method {
		case http.MethodGet:
			s.handleGetSchema(w, r, schemaID)
		case http.MethodPost:
			s.handlePublishSchema(w, r, schemaID, logger)
		case http.MethodDelete:
			s.handleDeleteSchema(w, r, schemaID, logger)
		default:
			writeBadRequest(w, "method not allowed")
		}
	}
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request, schemaID string) {
	version, err := parseVersionParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.store.Get(r.Context(), schemaID, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, rec)
}

func (s *Server) handlePublishSchema(w http.ResponseWriter, r *http.Request, schemaID string, logger *zap.Logger) {
	var doc registra.SchemaDocument
	if err := readJSONBody(r, &doc); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.store.Publish(r.Context(), schemaID, &doc)
	if err != nil {
		logger.Warn("publish rejected", zap.String("schema_id", schemaID), zap.Error(err))
		writeError(w, err)
		return
	}
	logger.Info("publish accepted",
		zap.String("schema_id", schemaID),
		zap.String("version", rec.Version.String()))
	writeSuccess(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteSchema(w http.ResponseWriter, r *http.Request, schemaID string, logger *zap.Logger) {
	version, err := parseVersionParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.store.Delete(r.Context(), schemaID, version); err != nil {
		writeError(w, err)
		return
	}
	logger.Info("schema deleted", zap.String("schema_id", schemaID))
	writeSuccess(w, http.StatusOK, map[string]string{"deleted": schemaID})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request, schemaID string) {
	versions, err := s.store.ListVersions(r.Context(), schemaID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]string, len(versions))
	for i, v := range versions {
		out[i] = v.String()
	}
	writeSuccess(w, http.StatusOK, map[string]any{"id": schemaID, "versions": out})
}

// handleValidateData validates an instance payload against a published schema
// version (latest unless ?version= is given).
func (s *Server) handleValidateData(w http.ResponseWriter, r *http.Request, schemaID string, logger *zap.Logger) {
	version, err := parseVersionParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	var instance any
	if err := readJSONBody(r, &instance); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	rec, err := s.store.Get(r.Context(), schemaID, version)
	if err != nil {
		writeError(w, err)
		return
	}
	violations, err := registra.ValidateData(rec.Document, instance)
	if err != nil {
		writeError(w, err)
		return
	}
	if violations == nil {
		violations = []string{}
	}
	logger.Info("instance validated",
		zap.String("schema_id", schemaID),
		zap.Int("violations", len(violations)))
	writeSuccess(w, http.StatusOK, map[string]any{
		"compatible": len(violations) == 0,
		"errors":     violations,
	})
}

// handleVersionCompat serves GET /compat/{id}/{from}/{to}: the structural
// diff between two published versions of the same schema.
func (s *Server) handleVersionCompat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeBadRequest(w, "method not allowed")
		return
	}
	schemaID, from, to, err := parseCompatPath(r.URL.Path)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	baseline, err := s.store.Get(r.Context(), schemaID, &from)
	if err != nil {
		writeError(w, err)
		return
	}
	candidate, err := s.store.Get(r.Context(), schemaID, &to)
	if err != nil {
		writeError(w, err)
		return
	}

	report := registra.Diff(baseline.Document, candidate.Document)
	writeSuccess(w, http.StatusOK, map[string]any{
		"id":     schemaID,
		"from":   from.String(),
		"to":     to.String(),
		"report": report,
		"class":  report.Classify(),
	})
}
