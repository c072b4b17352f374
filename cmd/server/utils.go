package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/lychee-technology/registra"
)

// parseSchemaPath parses /schema/{id}, /schema/{id}/versions and
// /schema/{id}/compat.
func parseSchemaPath(path string) (schemaID string, action string, err error) {
	path = strings.TrimPrefix(path, "/schema/")
	path = strings.Trim(path, "/")

	if path == "" {
		return "", "", fmt.Errorf("invalid path: empty schema id")
	}

	parts := strings.Split(path, "/")

	switch len(parts) {
	case 1:
		return parts[0], "", nil
	case 2:
		if parts[1] != "versions" && parts[1] != "compat" {
			return "", "", fmt.Errorf("unknown action: %s", parts[1])
		}
		return parts[0], parts[1], nil
	default:
		return "", "", fmt.Errorf("invalid path format")
	}
}

// parseCompatPath parses /compat/{id}/{from}/{to}.
func parseCompatPath(path string) (schemaID string, from, to registra.Version, err error) {
	path = strings.TrimPrefix(path, "/compat/")
	path = strings.Trim(path, "/")

	parts := strings.Split(path, "/")
	if len(parts) != 3 || parts[0] == "" {
		return "", from, to, fmt.Errorf("invalid path format, want /compat/{id}/{from}/{to}")
	}

	from, err = registra.ParseVersion(parts[1])
	if err != nil {
		return "", from, to, err
	}
	to, err = registra.ParseVersion(parts[2])
	if err != nil {
		return "", from, to, err
	}
	return parts[0], from, to, nil
}

// APIResponse is the standard response format
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
	Reasons []string    `json:"reasons,omitempty"`
}

// writeJSON writes JSON response to http.ResponseWriter
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a success response
func writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) error {
	return writeJSON(w, statusCode, APIResponse{Success: true, Data: data})
}

// writeError maps a registry error onto the HTTP status space and renders the
// standard error envelope.
func writeError(w http.ResponseWriter, err error) error {
	var re *registra.RegistryError
	if errors.As(err, &re) {
		return writeJSON(w, statusForError(re), APIResponse{
			Success: false,
			Error:   re.Message,
			Code:    re.Code,
			Reasons: re.Reasons,
		})
	}
	return writeJSON(w, http.StatusInternalServerError, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

func writeBadRequest(w http.ResponseWriter, message string) error {
	return writeJSON(w, http.StatusBadRequest, APIResponse{
		Success: false,
		Error:   message,
	})
}

func statusForError(re *registra.RegistryError) int {
	switch re.Type {
	case registra.ErrorTypeNotFound:
		return http.StatusNotFound
	case registra.ErrorTypeConflict:
		return http.StatusConflict
	case registra.ErrorTypeRejected:
		return http.StatusUnprocessableEntity
	case registra.ErrorTypeMalformed:
		return http.StatusBadRequest
	case registra.ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	case registra.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// readJSONBody reads and decodes JSON from request body
func readJSONBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// parseVersionParam parses an optional ?version= query parameter.
func parseVersionParam(r *http.Request) (*registra.Version, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return nil, nil
	}
	v, err := registra.ParseVersion(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
