package integrity

import (
	"bastion/core"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// walkPaths calls fn for every regular file reachable from roots.
// Directories are expanded recursively. Symlinks, unreadable entries and
// entries that vanish during the walk are skipped.
func walkPaths(roots []string, fn func(path string) error) error {
	for _, root := range roots {
		info, err := os.Lstat(root)
		if err != nil {
			continue
		}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			continue
		case info.Mode().IsRegular():
			if err := fn(root); err != nil {
				return err
			}
		case info.IsDir():
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
				if walkErr != nil {
					if d != nil && d.IsDir() && path != root {
						return fs.SkipDir
					}
					return nil
				}
				if !d.Type().IsRegular() {
					return nil
				}
				return fn(path)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// observe hashes path and collects the metadata stored alongside the digest
func observe(path string) (core.FileState, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.FileState{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return core.FileState{}, err
	}
	if !info.Mode().IsRegular() {
		return core.FileState{}, fmt.Errorf("%s is not a regular file", path)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return core.FileState{}, err
	}

	return core.FileState{
		Path:         path,
		Hash:         hex.EncodeToString(h.Sum(nil)),
		Size:         info.Size(),
		Permissions:  fmt.Sprintf("%o", info.Mode().Perm()),
		LastModified: info.ModTime(),
	}, nil
}
