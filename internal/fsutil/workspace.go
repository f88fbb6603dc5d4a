// Package fsutil manages the folders an AS2 node works in: spooled work
// files, backups and delivered payloads.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"

	"github.com/sirosfoundation/go-as2/pkg/message"
)

const filePerm = 0o640

// Config configures a Workspace.
type Config struct {
	WorkDir   string
	BackupDir string
	DoBackup  bool
	// MaxFileSize is the largest accepted file in bytes. Zero disables the
	// check.
	MaxFileSize int64
	Logger      *slog.Logger
}

// Workspace owns the work and backup folders.
type Workspace struct {
	workDir   string
	backupDir string
	doBackup  bool
	maxSize   int64
	logger    *slog.Logger
}

// NewWorkspace creates the configured folders and returns a Workspace.
func NewWorkspace(cfg Config) (*Workspace, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("%w: work folder not configured", message.ErrConfiguration)
	}
	if cfg.DoBackup && cfg.BackupDir == "" {
		return nil, fmt.Errorf("%w: backup enabled but no backup folder configured", message.ErrConfiguration)
	}
	for _, dir := range []string{cfg.WorkDir, cfg.BackupDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create folder %s: %w", dir, err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{
		workDir:   cfg.WorkDir,
		backupDir: cfg.BackupDir,
		doBackup:  cfg.DoBackup,
		maxSize:   cfg.MaxFileSize,
		logger:    logger,
	}, nil
}

// MaxFileSize returns the size limit in bytes, zero when unlimited.
func (w *Workspace) MaxFileSize() int64 {
	return w.maxSize
}

// UniqueFileName returns a fresh uuid based file name.
func UniqueFileName() string {
	return uuid.New().String()
}

// CreateWorkFile copies r into a new uniquely named file in the work folder.
// The file only appears once r has been copied completely.
func (w *Workspace) CreateWorkFile(r io.Reader) (string, error) {
	path := filepath.Join(w.workDir, UniqueFileName())
	f, err := renameio.NewPendingFile(path, renameio.WithPermissions(filePerm))
	if err != nil {
		return "", fmt.Errorf("failed to create work file: %w", err)
	}
	defer func() { _ = f.Cleanup() }()
	if _, err := io.Copy(f, r); err != nil {
		return "", fmt.Errorf("failed to write work file: %w", err)
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("failed to close work file: %w", err)
	}
	w.logger.Debug("work file created", slog.String("path", path))
	return path, nil
}

// WriteWorkFile stores data in a new work file.
func (w *Workspace) WriteWorkFile(data []byte) (string, error) {
	path := filepath.Join(w.workDir, UniqueFileName())
	if err := renameio.WriteFile(path, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to write work file: %w", err)
	}
	return path, nil
}

// RemoveWorkFile deletes a work file. Failures are logged only.
func (w *Workspace) RemoveWorkFile(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Error("failed to remove work file", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	w.logger.Debug("work file removed", slog.String("path", path))
}

// Backup copies path into the backup folder under a unique name and returns
// the copy's path. It returns "" when backup is disabled.
func (w *Workspace) Backup(path string) (string, error) {
	if !w.doBackup {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for backup: %w", path, err)
	}
	backup := filepath.Join(w.backupDir, UniqueFileName())
	if err := renameio.WriteFile(backup, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to back up %s: %w", path, err)
	}
	w.logger.Info("file backed up", slog.String("path", path), slog.String("backup", backup))
	return backup, nil
}

// CheckSize rejects files larger than the configured limit with
// message.ErrPolicyViolation.
func (w *Workspace) CheckSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if w.maxSize > 0 && info.Size() > w.maxSize {
		return fmt.Errorf("%w: file %s is %d bytes, limit is %d bytes",
			message.ErrPolicyViolation, filepath.Base(path), info.Size(), w.maxSize)
	}
	return nil
}

// Deliver writes data as name inside dir. The file appears complete or not
// at all; an existing file of that name is replaced.
func (w *Workspace) Deliver(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create delivery folder %s: %w", dir, err)
	}
	dst := filepath.Join(dir, SafeName(name))
	if err := renameio.WriteFile(dst, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to deliver %s: %w", dst, err)
	}
	return dst, nil
}

// Move renames src into dir, falling back to copy and delete across file
// systems. An existing destination is replaced.
func (w *Workspace) Move(src, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create folder %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src, err)
	}
	if err := renameio.WriteFile(dst, data, filePerm); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		return "", fmt.Errorf("failed to remove %s after copy: %w", src, err)
	}
	return dst, nil
}

// SafeName strips directory components so a name taken from a header
// cannot escape the target folder.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == ".." || name == "" {
		return UniqueFileName()
	}
	return name
}
