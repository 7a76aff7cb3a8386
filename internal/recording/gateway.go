package recording

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"golang.org/x/sync/singleflight"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

// Variant is a playable recording artifact resolved for one request.
type Variant struct {
	// Path is the on-disk file to stream.
	Path string
	// Name is the variant's stored file name.
	Name string
	// ContentType is the MIME type to serve.
	ContentType string
	// Converted reports whether this is a derived artifact rather than the
	// original upload.
	Converted bool
}

// Gateway serves recordings in a container the requesting client can play,
// converting on demand. Derived variants are cached next to the original
// and conversions for the same (recording, target) pair are collapsed into
// a single ffmpeg run.
type Gateway struct {
	blobs      *BlobStore
	transcoder Transcoder
	group      singleflight.Group
}

// NewGateway wires a gateway over a blob store and transcoder.
func NewGateway(blobs *BlobStore, transcoder Transcoder) *Gateway {
	return &Gateway{blobs: blobs, transcoder: transcoder}
}

// Playable resolves the artifact to stream for a stored recording name.
// targetContainer is the client's capability hint: empty means "serve the
// original". A hint matching the stored container also serves the original;
// anything else yields a cached or freshly converted variant. A failed
// conversion leaves the original untouched and reports CONVERSION_FAILURE.
func (g *Gateway) Playable(ctx context.Context, name, targetContainer string) (Variant, error) {
	if g == nil || g.blobs == nil {
		return Variant{}, apperrors.New(apperrors.CodeUnconfigured, "playback gateway is not configured")
	}

	sourcePath, err := g.blobs.Path(name)
	if err != nil {
		return Variant{}, err
	}
	if _, err := os.Stat(sourcePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Variant{}, apperrors.WithMetadata(
				apperrors.CodeRecordingNotFound,
				"recording not found",
				map[string]string{"Name": name},
			)
		}
		return Variant{}, apperrors.Wrap(apperrors.CodeStorageFailure, "stat recording", err)
	}

	stored, ok := ContainerForName(name)
	if !ok {
		return Variant{}, apperrors.WithMetadata(
			apperrors.CodeRecordingUnsupportedType,
			"unsupported recording type",
			map[string]string{"MimeType": path.Ext(name)},
		)
	}

	targetContainer = strings.ToLower(strings.TrimSpace(targetContainer))
	if targetContainer == "" || targetContainer == stored.Name {
		return Variant{
			Path:        sourcePath,
			Name:        name,
			ContentType: stored.ContentType,
		}, nil
	}

	target := containerByName(targetContainer)
	if target.Name == "" {
		return Variant{}, apperrors.WithMetadata(
			apperrors.CodeRecordingUnsupportedType,
			"unsupported playback target",
			map[string]string{"MimeType": targetContainer},
		)
	}

	variantName := baseName(name) + "." + target.Name
	variantPath, err := g.blobs.Path(variantName)
	if err != nil {
		return Variant{}, err
	}

	variant := Variant{
		Path:        variantPath,
		Name:        variantName,
		ContentType: target.ContentType,
		Converted:   true,
	}

	// Available: a prior conversion is reused as-is.
	if _, err := os.Stat(variantPath); err == nil {
		return variant, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Variant{}, apperrors.Wrap(apperrors.CodeStorageFailure, "stat variant", err)
	}

	if g.transcoder == nil {
		return Variant{}, apperrors.New(apperrors.CodeUnconfigured, "playback conversion is not configured")
	}

	// Converting: concurrent requests for the same pair share one run. The
	// transcoder writes to a hidden temp sibling that keeps the target
	// extension, and the rename publishes the variant only once it is
	// complete, so variantPath existing always means Available.
	key := name + "->" + target.Name
	_, err, _ = g.group.Do(key, func() (any, error) {
		// Re-check under the flight; a racer may have finished already.
		if _, err := os.Stat(variantPath); err == nil {
			return nil, nil
		}

		tmpPath, err := g.blobs.Path(".convert-" + variantName)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmpPath)

		if err := g.transcoder.Transcode(ctx, sourcePath, tmpPath, target); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConversionFailure, fmt.Sprintf("convert %s to %s", name, target.Name), err)
		}
		if err := os.Rename(tmpPath, variantPath); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "store variant", err)
		}
		return nil, nil
	})
	if err != nil {
		return Variant{}, err
	}
	return variant, nil
}
