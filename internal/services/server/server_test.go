package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/louisbranch/imogine/internal/broadcast"
	"github.com/louisbranch/imogine/internal/gesture"
	"github.com/louisbranch/imogine/internal/recording"
	sessionservice "github.com/louisbranch/imogine/internal/session/service"
	"github.com/louisbranch/imogine/internal/session/storage/sqlite"
)

// copyTranscoder fakes ffmpeg by copying the source file.
type copyTranscoder struct{}

func (copyTranscoder) Transcode(ctx context.Context, sourcePath, targetPath string, target recording.Container) error {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return err
	}
	return os.WriteFile(targetPath, data, 0o644)
}

func newTestApp(t *testing.T) *app {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "imogine.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	blobs, err := recording.NewBlobStore(t.TempDir())
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	hub := broadcast.New()
	return &app{
		sessions: sessionservice.New(store, hub),
		hub:      hub,
		ingestor: recording.NewIngestor(blobs, store),
		gateway:  recording.NewGateway(blobs, copyTranscoder{}),
		gesture:  gesture.NewClient(""),
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(newHandler(newTestApp(t)))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer res.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, decoded
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	res, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer res.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, decoded
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	res, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d: %v", res.StatusCode, created)
	}
	sessionID, _ := created["id"].(string)
	if sessionID == "" || created["active"] != true {
		t.Fatalf("created session = %v", created)
	}

	res, effect := postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"pitch","parameters":{"semitones":2}}`)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("effect status = %d: %v", res.StatusCode, effect)
	}
	if effect["seq"] != float64(1) || effect["kind"] != "pitch" {
		t.Fatalf("effect = %v", effect)
	}

	res, listing := getJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", res.StatusCode)
	}
	effects, _ := listing["effects"].([]any)
	if len(effects) != 1 {
		t.Fatalf("effects = %v", listing)
	}

	res, ended := postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/end", `{}`)
	if res.StatusCode != http.StatusOK || ended["active"] != false {
		t.Fatalf("end status = %d: %v", res.StatusCode, ended)
	}

	res, rejected := postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"pitch","parameters":{"semitones":2}}`)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("effect on ended session status = %d: %v", res.StatusCode, rejected)
	}
	if rejected["code"] != "SESSION_INACTIVE" {
		t.Fatalf("code = %v", rejected["code"])
	}
}

func TestApplyEffectValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	res, body := postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"reverb","parameters":{"x":1}}`)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "EFFECT_INVALID_KIND" {
		t.Fatalf("invalid kind: status=%d body=%v", res.StatusCode, body)
	}

	res, body = postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"pitch"}`)
	if res.StatusCode != http.StatusBadRequest || body["code"] != "EFFECT_MISSING_PARAMETERS" {
		t.Fatalf("missing parameters: status=%d body=%v", res.StatusCode, body)
	}

	res, body = postJSON(t, srv.URL+"/api/sessions/missing/effects",
		`{"kind":"pitch","parameters":{}}`)
	if res.StatusCode != http.StatusNotFound || body["code"] != "SESSION_NOT_FOUND" {
		t.Fatalf("unknown session: status=%d body=%v", res.StatusCode, body)
	}
}

func TestActiveSessionQuery(t *testing.T) {
	srv := newTestServer(t)

	res, body := getJSON(t, srv.URL+"/api/sessions/active?owner_id=u1")
	if res.StatusCode != http.StatusOK || body["session"] != nil {
		t.Fatalf("no active session: status=%d body=%v", res.StatusCode, body)
	}

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)

	_, body = getJSON(t, srv.URL+"/api/sessions/active?owner_id=u1")
	sess, _ := body["session"].(map[string]any)
	if sess == nil || sess["id"] != created["id"] {
		t.Fatalf("active session = %v", body)
	}

	res, body = getJSON(t, srv.URL+"/api/sessions/active")
	if res.StatusCode != http.StatusBadRequest || body["code"] != "SESSION_OWNER_REQUIRED" {
		t.Fatalf("missing owner: status=%d body=%v", res.StatusCode, body)
	}
}

func uploadRecording(t *testing.T, url, sessionID, fileName, contentType, data string) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := form.WriteField("session_id", sessionID); err != nil {
		t.Fatalf("write field: %v", err)
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := io.WriteString(part, data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	form.Close()

	res, err := http.Post(url+"/upload-recording", form.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer res.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return res, decoded
}

func TestUploadRecordingMIMEWins(t *testing.T) {
	srv := newTestServer(t)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	// Declared .webm file name, mp4 MIME type: the MIME type wins.
	res, body := uploadRecording(t, srv.URL, sessionID, "take.webm", "audio/mp4", "mp4 bytes")
	if res.StatusCode != http.StatusCreated || body["success"] != true {
		t.Fatalf("upload: status=%d body=%v", res.StatusCode, body)
	}
	info, _ := body["fileInfo"].(map[string]any)
	name, _ := info["name"].(string)
	if !strings.HasSuffix(name, ".mp4") || info["extension"] != ".mp4" {
		t.Fatalf("fileInfo = %v", info)
	}

	// The stored blob streams back with the container's content type.
	audio, err := http.Get(srv.URL + "/recordings/" + name)
	if err != nil {
		t.Fatalf("GET recording: %v", err)
	}
	defer audio.Body.Close()
	data, _ := io.ReadAll(audio.Body)
	if audio.StatusCode != http.StatusOK || string(data) != "mp4 bytes" {
		t.Fatalf("recording fetch: status=%d body=%q", audio.StatusCode, data)
	}
	if ct := audio.Header.Get("Content-Type"); ct != "audio/mp4" {
		t.Fatalf("content type = %s", ct)
	}

	// The session now references the recording.
	_, sess := getJSON(t, srv.URL+"/api/sessions/"+sessionID)
	ref, _ := sess["recording"].(map[string]any)
	if ref == nil || ref["name"] != name || ref["container"] != "mp4" {
		t.Fatalf("session recording = %v", sess)
	}
}

func TestStartSessionMalformedBody(t *testing.T) {
	srv := newTestServer(t)

	res, body := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":`)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d: %v", res.StatusCode, body)
	}
	// A parse failure is not an owner validation failure.
	if body["code"] != "UNKNOWN" {
		t.Fatalf("code = %v", body["code"])
	}
}

func TestUploadRecordingTooLarge(t *testing.T) {
	previous := maxUploadBytes
	maxUploadBytes = 512
	t.Cleanup(func() { maxUploadBytes = previous })

	srv := newTestServer(t)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	res, body := uploadRecording(t, srv.URL, sessionID, "take.webm", "audio/webm",
		strings.Repeat("x", 4096))
	if res.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d: %v", res.StatusCode, body)
	}
	if body["code"] == "RECORDING_NO_FILE" {
		t.Fatalf("oversized upload reported as a missing file: %v", body)
	}
}

func TestUploadRecordingWithoutFile(t *testing.T) {
	srv := newTestServer(t)
	res, err := http.Post(srv.URL+"/upload-recording", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.StatusCode != http.StatusBadRequest || body["code"] != "RECORDING_NO_FILE" {
		t.Fatalf("status=%d body=%v", res.StatusCode, body)
	}
}

func TestPlayableSafariGetsMP4(t *testing.T) {
	srv := newTestServer(t)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	_, body := uploadRecording(t, srv.URL, sessionID, "take.webm", "audio/webm", "webm bytes")
	info, _ := body["fileInfo"].(map[string]any)
	name, _ := info["name"].(string)
	if !strings.HasSuffix(name, ".webm") {
		t.Fatalf("stored name = %s", name)
	}

	const safariUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/audio/"+name, nil)
	req.Header.Set("User-Agent", safariUA)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "audio/mp4" {
		t.Fatalf("safari content type = %s", ct)
	}

	// Chrome keeps the original container.
	const chromeUA = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/audio/"+name, nil)
	req.Header.Set("User-Agent", chromeUA)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if ct := res.Header.Get("Content-Type"); ct != "audio/webm" {
		t.Fatalf("chrome content type = %s", ct)
	}

	// An explicit format parameter wins over the user agent.
	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/audio/"+name+"?format=webm", nil)
	req.Header.Set("User-Agent", safariUA)
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET audio: %v", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	if ct := res.Header.Get("Content-Type"); ct != "audio/webm" {
		t.Fatalf("explicit format content type = %s", ct)
	}
}

func TestGestureEndpointsUnconfigured(t *testing.T) {
	srv := newTestServer(t)

	res, body := getJSON(t, srv.URL+"/api/gesture/health")
	if res.StatusCode != http.StatusServiceUnavailable || body["code"] != "UNCONFIGURED" {
		t.Fatalf("health: status=%d body=%v", res.StatusCode, body)
	}

	res, body = postJSON(t, srv.URL+"/api/gesture/process", `{"gesture_data":{"x":1}}`)
	if res.StatusCode != http.StatusServiceUnavailable || body["code"] != "UNCONFIGURED" {
		t.Fatalf("process: status=%d body=%v", res.StatusCode, body)
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, err := websocket.Dial(wsURL, "", srv.URL)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, decoder *json.Decoder) wsFrame {
	t.Helper()
	var frame wsFrame
	if err := decoder.Decode(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestWSSubscribeReceivesAppliedEffects(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(newHandler(app))
	t.Cleanup(srv.Close)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	conn := dialWS(t, srv)
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	if err := encoder.Encode(wsFrame{
		Type:      "session.subscribe",
		RequestID: "r1",
		Payload:   json.RawMessage(fmt.Sprintf(`{"stream":"effect_applied","session_id":%q}`, sessionID)),
	}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}

	ack := readFrame(t, decoder)
	if ack.Type != "session.subscribed" || ack.RequestID != "r1" {
		t.Fatalf("ack = %+v", ack)
	}

	postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"volume","parameters":{"level":0.5}}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	event := readFrame(t, decoder)
	if event.Type != "session.event" {
		t.Fatalf("event frame = %+v", event)
	}
	var payload eventPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	if payload.Stream != "effect_applied" || payload.SessionID != sessionID {
		t.Fatalf("payload = %+v", payload)
	}
	if payload.Effect == nil || payload.Effect.Kind != "volume" || payload.Effect.Seq != 1 {
		t.Fatalf("effect = %+v", payload.Effect)
	}
}

func TestWSSubscribeOtherSessionSeesNothing(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(newHandler(app))
	t.Cleanup(srv.Close)

	_, created := postJSON(t, srv.URL+"/api/sessions/start", `{"owner_id":"u1"}`)
	sessionID, _ := created["id"].(string)

	conn := dialWS(t, srv)
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	if err := encoder.Encode(wsFrame{
		Type:      "session.subscribe",
		RequestID: "r1",
		Payload:   json.RawMessage(`{"stream":"effect_applied","session_id":"other"}`),
	}); err != nil {
		t.Fatalf("send subscribe: %v", err)
	}
	readFrame(t, decoder)

	postJSON(t, srv.URL+"/api/sessions/"+sessionID+"/effects",
		`{"kind":"pitch","parameters":{"semitones":1}}`)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var frame wsFrame
	if err := decoder.Decode(&frame); err == nil {
		t.Fatalf("unexpected frame for other session: %+v", frame)
	}
}

func TestWSUnsupportedFrameType(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv)
	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	if err := encoder.Encode(wsFrame{Type: "bogus", RequestID: "r1"}); err != nil {
		t.Fatalf("send frame: %v", err)
	}

	frame := readFrame(t, decoder)
	if frame.Type != "session.error" || frame.RequestID != "r1" {
		t.Fatalf("frame = %+v", frame)
	}
}
