package files

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jotbook/jot/internal/observability"
)

// ErrFileNotFound is returned when a path does not exist in the workspace.
var ErrFileNotFound = errors.New("file not found")

// Entry describes one directory listing item.
type Entry struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	IsDir      bool      `json:"is_dir"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	MimeType   string    `json:"mime_type,omitempty"`
}

// ChangeEvent reports a filesystem change under the workspace root.
type ChangeEvent struct {
	Path string
	Op   string // create, write, remove, rename, chmod
}

// Config controls the file service.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// Service implements the workspace file operations used by the assistant's
// file tools, sandboxed to a single root directory.
type Service struct {
	resolver Resolver
	maxRead  int
	logger   *observability.Logger
}

// NewService creates a file service rooted at cfg.Workspace. The root is
// created if missing.
func NewService(cfg Config, logger *observability.Logger) (*Service, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	limit := cfg.MaxReadBytes
	if limit <= 0 {
		limit = 200000
	}
	if err := os.MkdirAll(cfg.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Service{
		resolver: Resolver{Root: cfg.Workspace},
		maxRead:  limit,
		logger:   logger,
	}, nil
}

// ReadFile returns file contents, truncated to the configured read limit.
func (s *Service) ReadFile(ctx context.Context, path string) (string, error) {
	full, err := s.resolver.Resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("not a file: %s", path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", err
	}
	if len(data) > s.maxRead {
		s.logger.Debug(ctx, "read truncated", "path", path, "size", len(data), "limit", s.maxRead)
		data = data[:s.maxRead]
	}
	return string(data), nil
}

// WriteFile writes content, creating parent directories as needed.
func (s *Service) WriteFile(ctx context.Context, path, content string) error {
	full, err := s.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return err
	}
	s.logger.Debug(ctx, "file written", "path", path, "bytes", len(content))
	return nil
}

// ListDirectory lists one directory level: directories first, then files,
// both in case-insensitive name order.
func (s *Service) ListDirectory(ctx context.Context, path string) ([]Entry, error) {
	full, err := s.resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", path)
	}

	dirents, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirents))
	for _, de := range dirents {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		entry := Entry{
			Name:       de.Name(),
			Path:       filepath.ToSlash(filepath.Join(path, de.Name())),
			IsDir:      de.IsDir(),
			ModifiedAt: fi.ModTime(),
		}
		if !de.IsDir() {
			entry.Size = fi.Size()
			entry.MimeType = mime.TypeByExtension(filepath.Ext(de.Name()))
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// DeleteFile removes a file or an entire directory tree.
func (s *Service) DeleteFile(ctx context.Context, path string) error {
	full, err := s.resolver.Resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return err
	}
	s.logger.Debug(ctx, "file deleted", "path", path)
	return nil
}

// CreateDirectory makes a directory and any missing parents.
func (s *Service) CreateDirectory(ctx context.Context, path string) error {
	full, err := s.resolver.Resolve(path)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

// Watch emits change events for the workspace root until ctx is cancelled.
// The front end uses this to refresh its file browser.
func (s *Service) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("start watcher: %w", err)
	}
	root, err := s.resolver.Resolve("")
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch workspace: %w", err)
	}

	events := make(chan ChangeEvent, 16)
	go func() {
		defer watcher.Close()
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				rel, err := filepath.Rel(root, ev.Name)
				if err != nil {
					continue
				}
				select {
				case events <- ChangeEvent{Path: filepath.ToSlash(rel), Op: opString(ev.Op)}:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn(ctx, "workspace watcher error", "error", err)
			}
		}
	}()
	return events, nil
}

func opString(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	default:
		return "chmod"
	}
}
