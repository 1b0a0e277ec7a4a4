// Package receipts stores uploaded receipt images and returns a reference
// that is kept on the transaction.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidRef = errors.New("invalid receipt reference")

type Store interface {
	// Save stores data and returns the reference to keep on the transaction.
	Save(ctx context.Context, filename, contentType string, data []byte) (string, error)
	Remove(ctx context.Context, ref string) error
}

// objectName keeps the original extension and replaces the rest with a
// random id.
func objectName(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) > 10 {
		ext = ""
	}
	return "receipt-" + uuid.NewString() + ext
}

// LocalStore writes receipts to a directory served under URLPrefix.
type LocalStore struct {
	Dir       string
	URLPrefix string
}

func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStore{Dir: dir, URLPrefix: strings.TrimRight(urlPrefix, "/")}, nil
}

func (s *LocalStore) Save(_ context.Context, filename, _ string, data []byte) (string, error) {
	name := objectName(filename)
	if err := os.WriteFile(filepath.Join(s.Dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("save receipt: %w", err)
	}
	return s.URLPrefix + "/" + name, nil
}

func (s *LocalStore) Remove(_ context.Context, ref string) error {
	if !strings.HasPrefix(ref, s.URLPrefix+"/") {
		return ErrInvalidRef
	}
	name := path.Base(ref)
	if name == "." || name == "/" || name == ".." {
		return ErrInvalidRef
	}
	err := os.Remove(filepath.Join(s.Dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove receipt: %w", err)
	}
	return nil
}
