package server

import (
	"errors"
	"net/http"
	"path"
	"strings"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

// maxUploadBytes caps recording uploads at 64 MiB. Variable so tests can
// exercise the limit without multi-megabyte bodies.
var maxUploadBytes int64 = 64 << 20

type uploadResponse struct {
	Success  bool           `json:"success"`
	FilePath string         `json:"filePath"`
	FileInfo uploadFileInfo `json:"fileInfo"`
}

type uploadFileInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Extension string `json:"extension"`
	Size      int64  `json:"size"`
}

// handleUploadRecording accepts a multipart form with an "audio" file part
// and a "session_id" field. The part's declared content type decides the
// stored container, not the uploaded file name.
func (a *app) handleUploadRecording(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorJSON{
				Code:    string(apperrors.CodeUnknown),
				Message: "recording upload exceeds the size limit",
			})
			return
		}
		writeError(w, apperrors.New(apperrors.CodeRecordingNoFile, "no recording file provided"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, apperrors.New(apperrors.CodeRecordingNoFile, "no recording file provided"))
		return
	}
	defer file.Close()

	sessionID := r.FormValue("session_id")
	declaredMIME := header.Header.Get("Content-Type")

	ref, err := a.ingestor.IngestRecording(r.Context(), sessionID, file, declaredMIME)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		Success:  true,
		FilePath: "/recordings/" + ref.Name,
		FileInfo: uploadFileInfo{
			Name:      ref.Name,
			Type:      declaredMIME,
			Extension: path.Ext(ref.Name),
			Size:      ref.ByteSize,
		},
	})
}

// handleServeRecording streams a stored blob exactly as uploaded.
func (a *app) handleServeRecording(w http.ResponseWriter, r *http.Request) {
	variant, err := a.gateway.Playable(r.Context(), r.PathValue("name"), "")
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", variant.ContentType)
	http.ServeFile(w, r, variant.Path)
}

// handlePlayableRecording streams a recording in a container the client can
// play. An explicit format query parameter wins; otherwise Safari requesting
// a webm recording is served a converted mp4.
func (a *app) handlePlayableRecording(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	target := strings.TrimSpace(r.URL.Query().Get("format"))
	if target == "" && isSafari(r.UserAgent()) && strings.HasSuffix(name, ".webm") {
		target = "mp4"
	}

	variant, err := a.gateway.Playable(r.Context(), name, target)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", variant.ContentType)
	http.ServeFile(w, r, variant.Path)
}

// isSafari detects Safari proper. Chrome and friends embed "Safari" in
// their user agents, so those are excluded first.
func isSafari(userAgent string) bool {
	if !strings.Contains(userAgent, "Safari/") {
		return false
	}
	for _, other := range []string{"Chrome/", "Chromium/", "CriOS/", "Edg/", "Android"} {
		if strings.Contains(userAgent, other) {
			return false
		}
	}
	return true
}
