package orchestrator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
)

// Sink receives generated artifacts. Implementations must be safe to retry:
// writing the same bytes to the same path twice is idempotent.
type Sink interface {
	Write(ctx context.Context, path string, data []byte) error
}

// FileSink writes artifacts under a root directory, one directory per
// service. Writes are atomic: temp file then rename.
type FileSink struct {
	Root string
}

func NewFileSink(root string) *FileSink { return &FileSink{Root: root} }

func (s *FileSink) Write(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	full := filepath.Join(s.Root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return &SinkError{Path: path, Class: classifyFSError(err), Message: "create directory", Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), ".nthlayer-*")
	if err != nil {
		return &SinkError{Path: path, Class: classifyFSError(err), Message: "create temp file", Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &SinkError{Path: path, Class: classifyFSError(err), Message: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &SinkError{Path: path, Class: classifyFSError(err), Message: "close", Err: err}
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return &SinkError{Path: path, Class: classifyFSError(err), Message: "rename", Err: err}
	}
	return nil
}

// PriorHashes hashes the artifacts already on disk for a service, keyed by
// artifact path, for diffing in Plan. Missing files are simply absent from
// the map.
func (s *FileSink) PriorHashes(service string) (map[string]string, error) {
	hashes := make(map[string]string)
	for _, file := range artifactFiles {
		path := service + "/" + file
		data, err := os.ReadFile(filepath.Join(s.Root, filepath.FromSlash(path)))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &SinkError{Path: path, Class: classifyFSError(err), Message: "read prior", Err: err}
		}
		hashes[path] = hashBytes(data)
	}
	return hashes, nil
}

// classifyFSError marks out-of-space and interrupted writes as transient;
// permission and path errors are permanent.
func classifyFSError(err error) SinkErrorClass {
	if errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN) {
		return SinkTransient
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return classifyFSError(pathErr.Err)
	}
	return SinkPermanent
}
