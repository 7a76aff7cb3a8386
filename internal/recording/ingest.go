package recording

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/louisbranch/imogine/internal/errors"
	"github.com/louisbranch/imogine/internal/session/domain"
	"github.com/louisbranch/imogine/internal/session/storage"
)

// Ingestor accepts uploaded session recordings: it resolves the container
// from the declared MIME type, writes the blob durably under a canonical
// name, and only then links the recording to its session.
type Ingestor struct {
	blobs    *BlobStore
	sessions storage.SessionStore
	clock    func() time.Time
}

// NewIngestor wires an ingestor against a blob store and session store.
func NewIngestor(blobs *BlobStore, sessions storage.SessionStore) *Ingestor {
	return &Ingestor{
		blobs:    blobs,
		sessions: sessions,
		clock:    time.Now,
	}
}

// CanonicalName builds the stored file name for a session recording.
func CanonicalName(sessionID string, uploadedAt time.Time, container Container) string {
	return fmt.Sprintf("session-%s-%d.%s", sessionID, uploadedAt.UnixMilli(), container.Name)
}

// IngestRecording stores a recording blob for a session and returns the
// resulting reference. A session's reference is replaced on re-upload; the
// previous blob stays on disk until maintenance purges it.
func (i *Ingestor) IngestRecording(ctx context.Context, sessionID string, blob io.Reader, declaredMIME string) (domain.RecordingRef, error) {
	if i == nil || i.blobs == nil || i.sessions == nil {
		return domain.RecordingRef{}, apperrors.New(apperrors.CodeUnconfigured, "recording ingestion is not configured")
	}
	if blob == nil {
		return domain.RecordingRef{}, apperrors.New(apperrors.CodeRecordingNoFile, "no recording file provided")
	}

	sessionID = strings.TrimSpace(sessionID)
	if _, err := i.sessions.GetSession(ctx, sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.RecordingRef{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return domain.RecordingRef{}, apperrors.Wrap(apperrors.CodeStorageFailure, "load session", err)
	}

	container, err := ResolveContainer(declaredMIME)
	if err != nil {
		return domain.RecordingRef{}, err
	}

	name := CanonicalName(sessionID, i.clock().UTC(), container)
	if err := ValidateName(name); err != nil {
		return domain.RecordingRef{}, err
	}

	size, err := i.blobs.Write(name, blob)
	if err != nil {
		if apperrors.GetCode(err) != apperrors.CodeUnknown {
			return domain.RecordingRef{}, err
		}
		return domain.RecordingRef{}, apperrors.Wrap(apperrors.CodeStorageFailure, "store recording", err)
	}
	if size == 0 {
		// Discard the empty artifact before reporting the miss.
		if err := i.blobs.Remove(name); err != nil {
			return domain.RecordingRef{}, apperrors.Wrap(apperrors.CodeStorageFailure, "discard empty recording", err)
		}
		return domain.RecordingRef{}, apperrors.New(apperrors.CodeRecordingNoFile, "recording file is empty")
	}

	ref := domain.RecordingRef{
		Name:      name,
		Container: container.Name,
		ByteSize:  size,
	}
	if err := i.sessions.SetRecordingRef(ctx, sessionID, ref); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.RecordingRef{}, apperrors.New(apperrors.CodeSessionNotFound, "session not found")
		}
		return domain.RecordingRef{}, apperrors.Wrap(apperrors.CodeStorageFailure, "link recording", err)
	}
	return ref, nil
}
