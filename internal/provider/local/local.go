package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/config"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/provider"
	"github.com/Chapsvision-dev/captcha-token-acquirer/internal/util"
)

// LocalProvider writes artifacts below a root directory.
type LocalProvider struct {
	root string
}

func init() {
	provider.Register("local", func(cfg any) (provider.Provider, error) {
		c, ok := cfg.(config.Config)
		if !ok {
			return nil, fmt.Errorf("local: invalid config type")
		}
		return New(c.Artifacts.Dir)
	})
}

// New returns a provider rooted at dir. The directory is created on first Put.
func New(dir string) (*LocalProvider, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("local: root directory is required")
	}
	return &LocalProvider{root: filepath.Clean(dir)}, nil
}

func (p *LocalProvider) Name() string { return "local" }

// Put writes data to <root>/<key>. Keys escaping the root are rejected.
func (p *LocalProvider) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("local: create dir: %w", err)
	}
	// Write then rename so readers never see a partial file.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local: write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("local: rename: %w", err)
	}

	log.Info().
		Str("action", "local_put").
		Str("path", path).
		Str("content_type", contentType).
		Int("size", len(data)).
		Str("sha256", util.SHA256Hex(data)).
		Msg("artifact stored")
	return nil
}

func (p *LocalProvider) path(key string) (string, error) {
	key = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(key)), "/")
	if key == "" {
		return "", errors.New("local: key is empty")
	}
	path := filepath.Join(p.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(p.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("local: key %q escapes root", key)
	}
	return path, nil
}
