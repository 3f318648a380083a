package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"pinnit-go/internal/encryption"
	"pinnit-go/internal/pinnit"
)

// FileSystemRemote keeps one object per identity in a directory, typically
// a synced or network-mounted folder:
//
//	<root>/
//	  pins/
//	    <identityID>.json   (or .age when sealed)
type FileSystemRemote struct {
	root    string
	pinsDir string
	codec   blobCodec
}

// NewFileSystemRemote creates a filesystem remote rooted at root. sealer may
// be nil to store plain JSON.
func NewFileSystemRemote(root string, sealer *encryption.Sealer) (*FileSystemRemote, error) {
	pinsDir := filepath.Join(root, "pins")
	if err := os.MkdirAll(pinsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pins directory: %w", err)
	}

	return &FileSystemRemote{
		root:    root,
		pinsDir: pinsDir,
		codec:   blobCodec{sealer: sealer},
	}, nil
}

// FetchAll reads the identity's object. A missing object is an empty collection.
func (v *FileSystemRemote) FetchAll(ctx context.Context, identity pinnit.Identity) ([]pinnit.Pin, error) {
	path, err := v.path(identity.ID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return []pinnit.Pin{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading pins for %s: %w", identity.ID, err)
	}

	return v.codec.decode(data)
}

// ReplaceAll removes the identity's object, then writes the new one through
// a temp file and rename.
func (v *FileSystemRemote) ReplaceAll(ctx context.Context, identity pinnit.Identity, pins []pinnit.Pin) error {
	path, err := v.path(identity.ID)
	if err != nil {
		return err
	}

	data, err := v.codec.encode(pins)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting pins for %s: %w", identity.ID, err)
	}

	if err := v.writeFile(path, data); err != nil {
		return fmt.Errorf("inserting pins for %s: %w", identity.ID, err)
	}
	return nil
}

// ValidateSetup verifies that the remote directories are accessible.
func (v *FileSystemRemote) ValidateSetup() error {
	for _, dir := range []string{v.root, v.pinsDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("remote directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("remote path is not a directory: %s", dir)
		}
	}
	return nil
}

func (v *FileSystemRemote) path(identityID string) (string, error) {
	name, err := v.codec.objectName(identityID)
	if err != nil {
		return "", err
	}
	return filepath.Join(v.pinsDir, name), nil
}

// writeFile writes data to destPath using a temp file in the same directory
// and an atomic rename.
func (v *FileSystemRemote) writeFile(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemRemote implements pinnit.RemoteStore
var _ pinnit.RemoteStore = (*FileSystemRemote)(nil)
