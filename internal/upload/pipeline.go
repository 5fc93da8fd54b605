// Package upload implements the sticker upload pipeline: validate,
// write the blob, record metadata, and compensate the blob write if the
// metadata insert fails.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/weiawesome/sticker-chat/internal/domain"
	"github.com/weiawesome/sticker-chat/internal/repository"
	"github.com/weiawesome/sticker-chat/pkg/log"
	"github.com/weiawesome/sticker-chat/pkg/storage"
)

// MaxPayloadSize is the upload size ceiling.
const MaxPayloadSize = 5 * 1024 * 1024

var (
	// ErrUnsupportedType rejects declared subtypes outside the allow list.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrPayloadTooLarge rejects payloads over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload exceeds size limit")
	// ErrStorageWrite wraps a failed blob write. Nothing to undo.
	ErrStorageWrite = errors.New("blob write failed")
	// ErrMetadataWrite wraps a failed metadata insert after the blob
	// landed. The blob delete compensation has already been attempted.
	ErrMetadataWrite = errors.New("metadata write failed")
)

var allowedTypes = map[string]string{
	"gif":  "image/gif",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"webp": "image/webp",
}

var subTypeByContentType = map[string]string{
	"image/gif":  "gif",
	"image/png":  "png",
	"image/jpeg": "jpeg",
	"image/webp": "webp",
}

// SubTypeFromContentType maps a declared MIME type to its canonical
// subtype. Used when the file name carries no extension. Parameters
// after a semicolon are ignored.
func SubTypeFromContentType(ct string) (string, bool) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	sub, ok := subTypeByContentType[ct]
	return sub, ok
}

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)

// Request carries one upload through the pipeline.
type Request struct {
	Payload    []byte
	SubType    string // declared image subtype, e.g. "png"
	UploaderID string
	Name       string // original file name, display only after sanitizing
}

// Pipeline coordinates the blob store and the sticker record store so
// that a sticker record never outlives (or predates) a usable blob.
type Pipeline struct {
	blobs    storage.Storage
	stickers repository.StickerRepository
	now      func() time.Time
}

// New creates an upload pipeline.
func New(blobs storage.Storage, stickers repository.StickerRepository) *Pipeline {
	return &Pipeline{blobs: blobs, stickers: stickers, now: time.Now}
}

// Validate checks the request without side effects. Returned errors are
// terminal for the request; nothing has been written.
func (p *Pipeline) Validate(req *Request) error {
	if _, ok := allowedTypes[strings.ToLower(req.SubType)]; !ok {
		return ErrUnsupportedType
	}
	if int64(len(req.Payload)) > MaxPayloadSize {
		return ErrPayloadTooLarge
	}
	return nil
}

// Upload runs the full pipeline and returns the recorded sticker with
// its resolved public URL. Order matters: blob first, record second,
// so a failure can only leave an orphan blob, never a dangling record.
func (p *Pipeline) Upload(ctx context.Context, req *Request) (*domain.Sticker, error) {
	if err := p.Validate(req); err != nil {
		return nil, err
	}

	subType := strings.ToLower(req.SubType)
	key := buildKey(req.UploaderID, p.now(), req.Name)

	err := p.blobs.Write(ctx, key, bytes.NewReader(req.Payload),
		int64(len(req.Payload)), allowedTypes[subType])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	url, err := p.blobs.GetURL(ctx, key)
	if err != nil {
		p.compensate(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	sticker := &domain.Sticker{
		Name:       sanitizeName(req.Name),
		URL:        url,
		StorageKey: key,
		FileType:   subType,
		UploadedBy: req.UploaderID,
	}
	if err := p.stickers.Create(ctx, sticker); err != nil {
		p.compensate(ctx, key)
		return nil, fmt.Errorf("%w: %v", ErrMetadataWrite, err)
	}

	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldStickerID, sticker.ID).
		Str(log.FieldStorageKey, key).
		Str(log.FieldUserID, req.UploaderID).
		Msg("sticker uploaded")
	return sticker, nil
}

// Delete removes a sticker: record first, then blob. A blob delete
// failure leaves an orphan blob, which is tolerated; the record is
// already gone so nothing references it.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	sticker, err := p.stickers.Delete(ctx, id)
	if err != nil {
		return err
	}
	if sticker.StorageKey == "" {
		return nil
	}
	if err := p.blobs.Delete(ctx, sticker.StorageKey); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldStickerID, id).
			Str(log.FieldStorageKey, sticker.StorageKey).
			Msg("orphan blob left behind after sticker delete")
	}
	return nil
}

// compensate best-effort deletes a blob whose record never landed. An
// orphan blob wastes space but is invisible to users; failure here is
// logged and tolerated.
func (p *Pipeline) compensate(ctx context.Context, key string) {
	if err := p.blobs.Delete(ctx, key); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).
			Str(log.FieldStorageKey, key).
			Msg("compensating blob delete failed, orphan blob left behind")
	}
}

// buildKey derives the blob key "<uploader>/<unix-millis>-<name>". The
// timestamp prefix keeps repeated uploads of the same file distinct.
func buildKey(uploaderID string, at time.Time, name string) string {
	return fmt.Sprintf("%s/%d-%s", uploaderID, at.UnixMilli(), sanitizeName(name))
}

// sanitizeName replaces anything outside [a-zA-Z0-9.-] so the name is
// safe as a key segment on every storage driver.
func sanitizeName(name string) string {
	base := filepath.Base(name)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "file"
	}
	return unsafeKeyChars.ReplaceAllString(base, "_")
}
