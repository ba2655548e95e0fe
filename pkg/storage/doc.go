// Copyright © 2018 One Concern

// Package storage provides interface to handle backend storage objects.
//
// This package supports the following backends:
//   - local file system (commit repository objects)
//   - S3 (AWS), read access to remote base images
//   - GCS (Google), read access to remote base images
package storage
