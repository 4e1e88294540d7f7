// Package blob stores call audio on the local filesystem.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"callpipe/internal/services"
)

const serviceName = "blob"

// FS is a BlobStore rooted at a directory. Writes land in a temporary file
// next to the destination and are renamed into place, so readers never see
// a partial object.
type FS struct {
	root string
}

var _ services.BlobStore = (*FS)(nil)

// NewFS creates root when missing and returns a store rooted there.
func NewFS(root string) (*FS, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "root directory required", nil)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, serviceName, "init", "create root", err)
	}
	return &FS{root: root}, nil
}

// Root returns the store directory.
func (s *FS) Root() string {
	return s.root
}

// Upload writes r to path. An object already at path counts as success and
// is left untouched.
func (s *FS) Upload(ctx context.Context, path string, r io.Reader) error {
	dest, err := s.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return services.Wrap(services.ErrTransient, serviceName, "upload", "create directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return services.Wrap(services.ErrTransient, serviceName, "upload", "create temp file", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: r}); err != nil {
		_ = tmp.Close()
		return services.Wrap(services.ErrTransient, serviceName, "upload", "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return services.Wrap(services.ErrTransient, serviceName, "upload", "sync", err)
	}
	if err := tmp.Close(); err != nil {
		return services.Wrap(services.ErrTransient, serviceName, "upload", "close", err)
	}
	// Another writer may have won while we copied; first one stays.
	if _, err := os.Stat(dest); err == nil {
		return nil
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return services.Wrap(services.ErrTransient, serviceName, "upload", "rename", err)
	}
	return nil
}

// Download reads the object at path.
func (s *FS) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, serviceName, "download", path, err)
		}
		return nil, services.Wrap(services.ErrTransient, serviceName, "download", path, err)
	}
	return data, nil
}

// LocalPath returns the file backing path for tools that need a real file.
func (s *FS) LocalPath(path string) (string, error) {
	return s.resolve(path)
}

func (s *FS) resolve(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSpace(path)))
	if cleaned == "." || cleaned == "" || filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || cleaned == ".." {
		return "", services.Wrap(services.ErrValidation, serviceName, "resolve", fmt.Sprintf("invalid object path %q", path), nil)
	}
	return filepath.Join(s.root, cleaned), nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
