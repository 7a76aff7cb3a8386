package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
}

func stubID() (string, error) {
	return "stub-id", nil
}

func TestCreateSession(t *testing.T) {
	sess, err := CreateSession("u1", fixedClock, stubID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if sess.ID != "stub-id" {
		t.Fatalf("id = %q", sess.ID)
	}
	if !sess.Active {
		t.Fatal("new session must be active")
	}
	if !sess.StartedAt.Equal(fixedClock()) {
		t.Fatalf("startedAt = %s", sess.StartedAt)
	}
	if sess.EndedAt != nil {
		t.Fatal("new session must not have an end timestamp")
	}
}

func TestCreateSessionRequiresOwner(t *testing.T) {
	_, err := CreateSession("   ", fixedClock, stubID)
	if !apperrors.IsCode(err, apperrors.CodeSessionOwnerRequired) {
		t.Fatalf("expected owner-required error, got %v", err)
	}
}

func TestParseEffectKind(t *testing.T) {
	for _, kind := range EffectKinds() {
		got, err := ParseEffectKind(string(kind))
		if err != nil {
			t.Fatalf("parse %s: %v", kind, err)
		}
		if got != kind {
			t.Fatalf("kind = %s, want %s", got, kind)
		}
	}

	_, err := ParseEffectKind("reverb")
	if !apperrors.IsCode(err, apperrors.CodeEffectInvalidKind) {
		t.Fatalf("expected invalid-kind error, got %v", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatal("expected domain error")
	}
	if appErr.Metadata["Kind"] != "reverb" {
		t.Fatalf("metadata = %v", appErr.Metadata)
	}
}

func TestNewEffect(t *testing.T) {
	params := json.RawMessage(`{"level":0.8}`)
	effect, err := NewEffect("s1", "pitch", params, fixedClock, stubID)
	if err != nil {
		t.Fatalf("new effect: %v", err)
	}
	if effect.Kind != EffectKindPitch {
		t.Fatalf("kind = %s", effect.Kind)
	}
	if effect.SessionID != "s1" {
		t.Fatalf("session id = %q", effect.SessionID)
	}
	if string(effect.Parameters) != `{"level":0.8}` {
		t.Fatalf("parameters = %s", effect.Parameters)
	}
	if !effect.AppliedAt.Equal(fixedClock()) {
		t.Fatalf("appliedAt = %s", effect.AppliedAt)
	}
}

func TestNewEffectRejectsMissingParameters(t *testing.T) {
	cases := []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("null"), json.RawMessage("{not json")}
	for _, params := range cases {
		_, err := NewEffect("s1", "volume", params, fixedClock, stubID)
		if !apperrors.IsCode(err, apperrors.CodeEffectMissingParameters) {
			t.Fatalf("parameters %q: expected missing-parameters error, got %v", params, err)
		}
	}
}
