// Package artifacts stores the files produced by a run behind a single
// repository interface with pluggable backends.
//
// Every backend implements interfaces.ArtifactRepository:
//
//   - MountedBackend for a distributed filesystem mounted on the node, and
//     for local directories
//   - RestBackend for the REST object store gateway
//   - CliBackend delegating every operation to the artifacts command line tool
//   - S3Backend for S3-compatible object storage
//   - IPFSBackend for the mutable file system of an IPFS node
//
// # Artifact URI Format
//
// The artifact URI of a run selects the backend:
//
//	dbfs:/databricks/runs/<run-id>/artifacts
//	file:///var/lib/artifacts/<run-id>  or  /var/lib/artifacts/<run-id>
//	s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-west-2&endpoint=minio:9000
//	ipfs://127.0.0.1:5001/artifacts/<run-id>?timeout=30s
//
// # Backend Selection
//
// RepositoryFactory decides once, when a repository is created. A dbfs: URI
// gets a DbfsBackend that probes the mount and binds to MountedBackend if
// the mount resolves, or to the fallback otherwise. In the default mode the
// fallback is CliBackend and every other scheme is delegated to the command
// line tool as well. Native mode, used by the tool itself, serves file, s3
// and ipfs URIs in-process and falls back to RestBackend for dbfs.
//
// # Paths
//
// Artifact paths are relative to the artifact URI and "" is the root. One
// leading "/" is ignored, so "/a/b" and "a/b" name the same artifact.
// LogArtifacts mirrors the local tree: localDir/sub/x.txt is stored as
// artifactPath/sub/x.txt, and DownloadArtifacts restores the same layout.
//
// # Usage
//
//	factory := artifacts.NewRepositoryFactory(logger, creds.EnvProvider{})
//	repo, err := factory.ArtifactRepositoryFor("dbfs:/runs/42/artifacts", "42")
//	if err != nil {
//	    return err
//	}
//	if err := repo.LogArtifacts(ctx, "./out", "model"); err != nil {
//	    return err
//	}
//	infos, err := repo.ListArtifacts(ctx, "model")
package artifacts
