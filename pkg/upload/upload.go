// Package upload publishes report directories to S3-compatible storage and
// reads input objects back from it.
package upload

import "context"

// Uploader uploads a local report directory to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on misconfiguration.
	Preflight(ctx context.Context) error

	// Upload uploads all files in localDir. The directory basename is
	// used as a sub-prefix under the configured remote prefix. It returns
	// the key prefix the files were written under.
	Upload(ctx context.Context, localDir string) (string, error)
}
