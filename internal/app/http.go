package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/orion-services/activity/internal/store"

	"go.uber.org/zap"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	log        *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, log *zap.Logger) *HTTPServer {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch parts[1] {
	case "workflows":
		s.handleWorkflows(w, r, parts)
	case "activities":
		s.handleActivities(w, r, parts)
	case "groups":
		s.handleGroups(w, r, parts)
	case "users":
		s.handleUsers(w, r, parts)
	case "documents":
		s.handleDocuments(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleWorkflows(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := 20
		if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
			if parsedLimit, err := strconv.Atoi(rawLimit); err == nil && parsedLimit > 0 {
				limit = parsedLimit
			}
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, s.service.SearchWorkflows(r.Context(), query, limit))
	case http.MethodPut:
		var body struct {
			Name        string        `json:"name"`
			Description string        `json:"description"`
			Stages      []store.Stage `json:"stages"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		workflow, err := s.service.CreateOrUpdateWorkflow(r.Context(), body.Name, body.Description, body.Stages)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"workflow": workflowPayload(workflow)})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleActivities(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		var body struct {
			CreatorID string `json:"creatorId"`
			Workflow  string `json:"workflow"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		activity, err := s.service.CreateActivity(r.Context(), strings.TrimSpace(body.CreatorID), body.Workflow)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"activity": activityPayload(activity)})
		return
	}

	if len(parts) < 4 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	activityID := parts[2]

	switch {
	case len(parts) == 4 && parts[3] == "users" && r.Method == http.MethodPost:
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		activity, err := s.service.AddUserToActivity(r.Context(), activityID, strings.TrimSpace(body.UserID))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": activityPayload(activity)})

	case len(parts) == 4 && parts[3] == "start" && r.Method == http.MethodPatch:
		activity, err := s.service.StartActivity(r.Context(), activityID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": activityPayload(activity)})

	case len(parts) == 4 && parts[3] == "advance" && r.Method == http.MethodPatch:
		activity, err := s.service.AdvanceStage(r.Context(), activityID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activity": activityPayload(activity)})

	case len(parts) == 4 && parts[3] == "finished" && r.Method == http.MethodGet:
		finished, err := s.service.IsStageFinished(r.Context(), activityID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"finished": finished})

	case len(parts) == 4 && parts[3] == "apply" && r.Method == http.MethodPost:
		var body struct {
			UserID string `json:"userId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.Apply(r.Context(), activityID, strings.TrimSpace(body.UserID)); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 4 && parts[3] == "groups" && r.Method == http.MethodPost:
		var body struct {
			UserIDs []string `json:"userIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		var (
			group store.GroupActivity
			err   error
		)
		if len(body.UserIDs) == 0 {
			group, err = s.service.CreateGroup(r.Context(), activityID)
		} else {
			group, err = s.service.CreateGroupWithUsers(r.Context(), activityID, body.UserIDs)
		}
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"group": groupPayload(group)})

	case len(parts) == 6 && parts[3] == "users" && parts[5] == "group" && r.Method == http.MethodDelete:
		if err := s.service.RemoveUserFromGroup(r.Context(), activityID, parts[4]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 6 && parts[3] == "users" && parts[5] == "group" && r.Method == http.MethodPut:
		var body struct {
			GroupID string `json:"groupId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.TransferUserToGroup(r.Context(), activityID, parts[4], body.GroupID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	case len(parts) == 6 && parts[3] == "groups" && parts[5] == "capacity" && r.Method == http.MethodPatch:
		var body struct {
			Capacity *int `json:"capacity"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Capacity == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "capacity is required", nil)
			return
		}
		group, err := s.service.ChangeGroupCapacity(r.Context(), activityID, parts[4], *body.Capacity)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"group": groupPayload(group)})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleGroups(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 4 || parts[3] != "users" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		UserID     string `json:"userId"`
		DocumentID string `json:"documentId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	group, err := s.service.AddUserToGroup(r.Context(), parts[2], strings.TrimSpace(body.UserID), strings.TrimSpace(body.DocumentID))
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"group": groupPayload(group)})
}

func (s *HTTPServer) handleUsers(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 4 || r.Method != http.MethodPatch {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	var (
		user store.User
		err  error
	)
	switch parts[3] {
	case "connect":
		user, err = s.service.ConnectUser(r.Context(), parts[2])
	case "disconnect":
		user, err = s.service.DisconnectUser(r.Context(), parts[2])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": userPayload(user)})
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 3 || r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	view, err := s.service.GetDocument(r.Context(), parts[2])
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentPayload(view))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.log.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var failure *ValidationFailure
	if errors.As(err, &failure) {
		violations := make([]map[string]string, 0, len(failure.Violations))
		for _, v := range failure.Violations {
			violations = append(violations, map[string]string{"step": v.Step, "message": v.Message})
		}
		return http.StatusUnprocessableEntity, "STEP_VALIDATION_FAILED", "One or more steps rejected the action", violations
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "Conflicting update, retry the request", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
