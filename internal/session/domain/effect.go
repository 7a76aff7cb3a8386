package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
	"github.com/louisbranch/imogine/internal/id"
)

// EffectKind identifies a gesture effect type. The set is closed; unknown
// kinds are rejected at ingestion.
type EffectKind string

const (
	EffectKindPitch   EffectKind = "pitch"
	EffectKindHarmony EffectKind = "harmony"
	EffectKindVolume  EffectKind = "volume"
	EffectKindTempo   EffectKind = "tempo"
)

// EffectKinds lists every valid effect kind.
func EffectKinds() []EffectKind {
	return []EffectKind{EffectKindPitch, EffectKindHarmony, EffectKindVolume, EffectKindTempo}
}

// ParseEffectKind validates a raw kind string against the closed enumeration.
func ParseEffectKind(raw string) (EffectKind, error) {
	kind := EffectKind(strings.TrimSpace(raw))
	switch kind {
	case EffectKindPitch, EffectKindHarmony, EffectKindVolume, EffectKindTempo:
		return kind, nil
	}
	return "", apperrors.WithMetadata(
		apperrors.CodeEffectInvalidKind,
		fmt.Sprintf("effect kind %q is not recognized", raw),
		map[string]string{"Kind": raw},
	)
}

// Effect is an immutable, timestamped, typed adjustment applied to a
// session's in-progress audio.
type Effect struct {
	ID         string
	SessionID  string
	Seq        uint64 // append order within the session, assigned by storage
	Kind       EffectKind
	Parameters json.RawMessage
	AppliedAt  time.Time
}

// NewEffect validates a raw gesture event and materializes an Effect with a
// generated ID and server-assigned timestamp. The parameters payload is
// kind-specific and only checked for presence and well-formedness.
func NewEffect(sessionID, rawKind string, parameters json.RawMessage, now func() time.Time, idGenerator func() (string, error)) (Effect, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	kind, err := ParseEffectKind(rawKind)
	if err != nil {
		return Effect{}, err
	}

	trimmed := strings.TrimSpace(string(parameters))
	if trimmed == "" || trimmed == "null" {
		return Effect{}, apperrors.New(apperrors.CodeEffectMissingParameters, "effect parameters are required")
	}
	if !json.Valid(parameters) {
		return Effect{}, apperrors.New(apperrors.CodeEffectMissingParameters, "effect parameters are not valid JSON")
	}

	effectID, err := idGenerator()
	if err != nil {
		return Effect{}, fmt.Errorf("generate effect id: %w", err)
	}

	return Effect{
		ID:         effectID,
		SessionID:  sessionID,
		Kind:       kind,
		Parameters: parameters,
		AppliedAt:  now().UTC(),
	}, nil
}
