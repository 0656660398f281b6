package email

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/rs/zerolog"
)

// DefaultMaxAttachmentSize is the largest file, in bytes, we attach unless
// configured otherwise.
const DefaultMaxAttachmentSize int64 = 5 * units.MB

const defaultMIMEType = "application/octet-stream"

// Reasons a Validator rejects a file
var (
	ErrFileNotFound = errors.New("file not found")
	ErrSizeExceeded = errors.New("file exceeds the maximum attachment size")
)

// SizeExceededError is returned for files larger than the Validator's limit.
// It matches ErrSizeExceeded with errors.Is.
type SizeExceededError struct {
	Path   string
	Actual int64
	Limit  int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf(
		"%v is %v bytes, but the limit is %v bytes",
		e.Path,
		e.Actual,
		e.Limit,
	)
}

// Is reports whether target is ErrSizeExceeded.
func (e *SizeExceededError) Is(target error) bool {
	return target == ErrSizeExceeded
}

// Validator decides which files may be attached to a message. Admission
// only looks at the filesystem and never changes a Message, so the same
// file gets the same answer no matter when it's checked.
type Validator struct {
	// Files larger than this many bytes are rejected
	MaxSize int64
	Logger  zerolog.Logger
}

// NewValidator returns a Validator that rejects files over maxSize bytes. A
// non-positive maxSize means DefaultMaxAttachmentSize.
func NewValidator(maxSize int64, logger zerolog.Logger) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxAttachmentSize
	}
	return &Validator{
		MaxSize: maxSize,
		Logger:  logger,
	}
}

// Admit checks the file at path and returns an Attachment for it, or an
// error wrapping ErrFileNotFound or a *SizeExceededError. A blank
// displayName means the file's base name, and a blank mimeType is guessed
// from the extension.
func (v *Validator) Admit(path, displayName, mimeType string) (Attachment, error) {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		v.Logger.Warn().
			Str("event", "attachment-rejected").
			Str("path", path).
			Str("reason", "FileNotFound").
			Msg("can't attach a file that doesn't exist")
		return Attachment{}, fmt.Errorf("can't attach %v: %w", path, ErrFileNotFound)
	}

	if fi.Size() > v.MaxSize {
		v.Logger.Warn().
			Str("event", "attachment-rejected").
			Str("path", path).
			Str("reason", "SizeExceeded").
			Int64("actual", fi.Size()).
			Int64("limit", v.MaxSize).
			Str("size", units.HumanSize(float64(fi.Size()))).
			Msg("attachment is too large")
		return Attachment{}, &SizeExceededError{
			Path:   path,
			Actual: fi.Size(),
			Limit:  v.MaxSize,
		}
	}

	if displayName == "" {
		displayName = filepath.Base(path)
	}
	if mimeType == "" {
		mimeType = guessMIMEType(path)
	} else if mt, ok := normalizeMIMEType(mimeType); ok {
		mimeType = mt
	} else {
		v.Logger.Warn().
			Str("event", "attachment-type-replaced").
			Str("path", path).
			Str("mimeType", mimeType).
			Msg("not a valid media type, so guessing one from the extension")
		mimeType = guessMIMEType(path)
	}

	a := Attachment{
		SourcePath:  path,
		DisplayName: displayName,
		MIMEType:    mimeType,
		SizeBytes:   fi.Size(),
	}

	v.Logger.Info().
		Str("event", "attachment-admitted").
		Str("path", path).
		Str("name", a.DisplayName).
		Str("mimeType", a.MIMEType).
		Int64("size", a.SizeBytes).
		Msg("admitted an attachment")

	return a, nil
}

// guessMIMEType looks up a media type by file extension, dropping any
// parameters such as charset.
func guessMIMEType(path string) string {
	t := mime.TypeByExtension(filepath.Ext(path))
	if t == "" {
		return defaultMIMEType
	}
	mt, _, err := mime.ParseMediaType(t)
	if err != nil {
		return defaultMIMEType
	}
	return mt
}

// normalizeMIMEType parses s as a media type with optional parameters and
// renders it again. Anything that can't be parsed, including values with
// line breaks, is refused.
func normalizeMIMEType(s string) (string, bool) {
	mt, params, err := mime.ParseMediaType(s)
	if err != nil || !strings.Contains(mt, "/") {
		return "", false
	}
	f := mime.FormatMediaType(mt, params)
	if f == "" {
		return "", false
	}
	return f, true
}

// AddAttachment admits the file at path with v and, if it passes, appends
// it to m.Attachments. On rejection m is left as it was and the reason is
// returned. Callers usually log and carry on, since a rejected attachment
// doesn't prevent sending.
func (m *Message) AddAttachment(v *Validator, path, displayName, mimeType string) error {
	a, err := v.Admit(path, displayName, mimeType)
	if err != nil {
		return err
	}
	m.Attachments = append(m.Attachments, a)
	return nil
}
