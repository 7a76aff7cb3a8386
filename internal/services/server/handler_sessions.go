package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
	"github.com/louisbranch/imogine/internal/session/domain"
)

type sessionJSON struct {
	ID        string         `json:"id"`
	OwnerID   string         `json:"owner_id"`
	Active    bool           `json:"active"`
	StartedAt string         `json:"started_at"`
	EndedAt   string         `json:"ended_at,omitempty"`
	Recording *recordingJSON `json:"recording,omitempty"`
}

type recordingJSON struct {
	Name      string `json:"name"`
	Container string `json:"container"`
	Size      int64  `json:"size"`
	URL       string `json:"url"`
}

type effectJSON struct {
	ID         string          `json:"id"`
	SessionID  string          `json:"session_id"`
	Seq        uint64          `json:"seq"`
	Kind       string          `json:"kind"`
	Parameters json.RawMessage `json:"parameters"`
	AppliedAt  string          `json:"applied_at"`
}

type errorJSON struct {
	Success   bool   `json:"success"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func toSessionJSON(sess domain.Session) sessionJSON {
	out := sessionJSON{
		ID:        sess.ID,
		OwnerID:   sess.OwnerID,
		Active:    sess.Active,
		StartedAt: sess.StartedAt.UTC().Format(time.RFC3339),
	}
	if sess.EndedAt != nil {
		out.EndedAt = sess.EndedAt.UTC().Format(time.RFC3339)
	}
	if sess.Recording != nil {
		out.Recording = &recordingJSON{
			Name:      sess.Recording.Name,
			Container: sess.Recording.Container,
			Size:      sess.Recording.ByteSize,
			URL:       "/recordings/" + sess.Recording.Name,
		}
	}
	return out
}

func toEffectJSON(effect domain.Effect) effectJSON {
	return effectJSON{
		ID:         effect.ID,
		SessionID:  effect.SessionID,
		Seq:        effect.Seq,
		Kind:       string(effect.Kind),
		Parameters: effect.Parameters,
		AppliedAt:  effect.AppliedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == apperrors.CodeStorageFailure || code == apperrors.CodeUnknown {
		log.Printf("request failed: %v", err)
	}
	writeJSON(w, code.HTTPStatus(), errorJSON{
		Code:      string(code),
		Message:   apperrors.UserMessage(err),
		Retryable: code.Retryable(),
	})
}

func (a *app) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OwnerID string `json:"owner_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Code: string(apperrors.CodeUnknown), Message: "invalid request body"})
		return
	}

	sess, err := a.sessions.StartSession(r.Context(), payload.OwnerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSessionJSON(sess))
}

func (a *app) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.EndSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(sess))
}

func (a *app) handleApplyEffect(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind       string          `json:"kind"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apperrors.New(apperrors.CodeEffectMissingParameters, "invalid request body"))
		return
	}

	effect, err := a.sessions.ApplyGestureEffect(r.Context(), r.PathValue("id"), payload.Kind, payload.Parameters)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEffectJSON(effect))
}

func (a *app) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionJSON(sess))
}

func (a *app) handleListEffects(w http.ResponseWriter, r *http.Request) {
	effects, err := a.sessions.GetCurrentEffects(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]effectJSON, 0, len(effects))
	for _, effect := range effects {
		out = append(out, toEffectJSON(effect))
	}
	writeJSON(w, http.StatusOK, map[string]any{"effects": out})
}

func (a *app) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	sess, ok, err := a.sessions.GetActiveSession(r.Context(), r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"session": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": toSessionJSON(sess)})
}

// handleListSessions serves both the per-owner history and the recent
// cross-owner listing, selected by the owner_id query parameter.
func (a *app) handleListSessions(w http.ResponseWriter, r *http.Request) {
	var sessions []domain.Session
	var err error
	if ownerID := r.URL.Query().Get("owner_id"); ownerID != "" {
		sessions, err = a.sessions.ListSessionsByOwner(r.Context(), ownerID)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err = a.sessions.ListRecentSessions(r.Context(), limit)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]sessionJSON, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, toSessionJSON(sess))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *app) handleGestureHealth(w http.ResponseWriter, r *http.Request) {
	if err := a.gesture.Healthy(r.Context()); err != nil {
		if apperrors.IsCode(err, apperrors.CodeUnconfigured) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]any{"healthy": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"healthy": true})
}

func (a *app) handleGestureProcess(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		GestureData json.RawMessage `json:"gesture_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorJSON{Code: string(apperrors.CodeUnknown), Message: "invalid request body"})
		return
	}

	result, err := a.gesture.Process(r.Context(), payload.GestureData)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(result)
}
