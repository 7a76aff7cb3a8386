// Package recording handles session audio artifacts: ingesting uploaded
// blobs, naming and storing them durably, and serving them back in a
// container the requesting client can play.
package recording

import (
	"path"
	"strings"

	apperrors "github.com/louisbranch/imogine/internal/errors"
)

// Container describes a supported audio container format.
type Container struct {
	// Name is the canonical container identifier, also used as the stored
	// file extension.
	Name string
	// ContentType is the MIME type served for this container.
	ContentType string
}

// The closed set of containers accepted for upload and playback. Declared
// MIME wins over any client-declared extension when they disagree.
var containers = []Container{
	{Name: "webm", ContentType: "audio/webm"},
	{Name: "mp4", ContentType: "audio/mp4"},
	{Name: "ogg", ContentType: "audio/ogg"},
	{Name: "mp3", ContentType: "audio/mpeg"},
	{Name: "aac", ContentType: "audio/aac"},
}

// mimeAliases maps declared MIME types to container names. Codec suffixes
// such as "audio/webm;codecs=opus" are stripped before lookup.
var mimeAliases = map[string]string{
	"audio/webm": "webm",
	"video/webm": "webm",
	"audio/mp4":  "mp4",
	"video/mp4":  "mp4",
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp3":  "mp3",
	"audio/aac":  "aac",
}

// ResolveContainer maps a declared MIME type to its container. Unsupported
// or empty types are rejected with RECORDING_UNSUPPORTED_TYPE.
func ResolveContainer(declaredMIME string) (Container, error) {
	mime := strings.ToLower(strings.TrimSpace(declaredMIME))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}

	name, ok := mimeAliases[mime]
	if !ok {
		return Container{}, apperrors.WithMetadata(
			apperrors.CodeRecordingUnsupportedType,
			"unsupported recording type",
			map[string]string{"MimeType": declaredMIME},
		)
	}
	return containerByName(name), nil
}

// ContainerForName resolves a container from a stored file name's extension.
func ContainerForName(name string) (Container, bool) {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	for _, c := range containers {
		if c.Name == ext {
			return c, true
		}
	}
	return Container{}, false
}

func containerByName(name string) Container {
	for _, c := range containers {
		if c.Name == name {
			return c
		}
	}
	return Container{}
}
