// Package main (cmd/artifacts) is the artifacts command line tool. It is the
// program the CLI-delegating backend invokes, and it serves every request with
// the native backends.
//
// A run's artifacts live under <artifact-root>/<run-id>/artifacts:
//
//	artifacts --artifact-root s3://bucket/mlruns artifacts log-artifact --run-id 42 --local-file model.pkl
//	artifacts --artifact-root s3://bucket/mlruns artifacts log-artifacts --run-id 42 --artifact-path plots --local-dir ./plots
//	artifacts --artifact-root s3://bucket/mlruns artifacts list --run-id 42 --artifact-path plots
//	artifacts --artifact-root s3://bucket/mlruns artifacts download --run-id 42 --artifact-path plots
//
// list prints a JSON array of {path, is_dir, file_size} objects on stdout and
// download prints the local path of the downloaded copy. Logs go to stderr.
//
// Credentials for the REST object store come from TRACKING_* variables, or
// from a profile of ~/.artifactscfg when --profile is given. A .env file in
// the working directory is loaded on start-up.
package main
