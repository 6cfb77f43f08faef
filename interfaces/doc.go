// Package interfaces defines the contracts shared by the artifact repository
// backends, separating interface definitions from implementations.
//
// # Repository Interfaces
//
// ArtifactRepository: uploads, downloads and lists the artifacts of a single
// run. Every backend (mounted filesystem, REST object store, CLI delegation,
// S3, IPFS) satisfies it, and callers depend only on this contract.
//
// ArtifactRepositoryFactory: selects and constructs the backend serving a
// base artifact URI.
//
// # Data Types
//
//   - ArtifactLocation: parsed base artifact URI; its scheme drives dispatch
//   - FileInfo: one listing entry {path, is_dir, file_size}
//   - HostCreds / HostCredsProvider: connection and auth info for REST and
//     CLI backends, read fresh on every call
//
// # Errors
//
// ErrInvalidArgument reports bad local paths. Medium failures are returned
// as *StorageError, which matches ErrStorageOperationFailed with errors.Is.
// ErrBackendUnavailable only travels between a capability probe and the
// dispatcher that consumes it.
package interfaces
