package qris

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const imageSize = 512

// Encoder writes QR image artifacts for dynamic payloads into a
// single directory. Artifact ids are opaque to callers.
type Encoder struct {
	payload string
	dir     string
}

func NewEncoder(payload, dir string) (*Encoder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}

	return &Encoder{payload: payload, dir: dir}, nil
}

// Encode renders the QR image for amount and returns the artifact id.
func (e *Encoder) Encode(ctx context.Context, amount int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	payload, err := DynamicPayload(e.payload, amount)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := qrcode.WriteFile(payload, qrcode.Medium, imageSize, e.path(id)); err != nil {
		return "", fmt.Errorf("writing QR image: %w", err)
	}

	return id, nil
}

// Remove deletes the artifact file. A missing file is not an error:
// removal may race the janitor.
func (e *Encoder) Remove(id string) error {
	if err := os.Remove(e.path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing artifact: %w", err)
	}

	return nil
}

// Path resolves an artifact id to its file. The id must be a UUID,
// which also keeps request paths from escaping the artifact dir.
func (e *Encoder) Path(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid artifact id: %w", err)
	}

	return e.path(id), nil
}

func (e *Encoder) path(id string) string {
	return filepath.Join(e.dir, id+".png")
}
