package interfaces

import (
	"context"
	"sort"
)

// FileInfo describes one artifact entry. FileSize is nil for directories.
type FileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize *int64 `json:"file_size,omitempty"`
}

// NewFileEntry returns the FileInfo of a regular file.
func NewFileEntry(path string, size int64) FileInfo {
	return FileInfo{Path: path, FileSize: &size}
}

// NewDirEntry returns the FileInfo of a directory.
func NewDirEntry(path string) FileInfo {
	return FileInfo{Path: path, IsDir: true}
}

// Size returns the file size, or 0 for directories.
func (fi FileInfo) Size() int64 {
	if fi.FileSize == nil {
		return 0
	}
	return *fi.FileSize
}

// SortFileInfos orders infos by path in place.
func SortFileInfos(infos []FileInfo) {
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
}

// HostCreds carries connection info for the tracking server or the REST
// object store.
type HostCreds struct {
	Host     string
	Username string
	Password string
	Token    string
	// Insecure disables TLS certificate verification.
	Insecure bool
}

// HostCredsProvider resolves host and auth info. Repositories call it on
// every request that needs it and never cache the result.
type HostCredsProvider interface {
	HostCreds(ctx context.Context) (HostCreds, error)
}

// HostCredsProviderFunc adapts a function to HostCredsProvider.
type HostCredsProviderFunc func(ctx context.Context) (HostCreds, error)

func (f HostCredsProviderFunc) HostCreds(ctx context.Context) (HostCreds, error) {
	return f(ctx)
}
