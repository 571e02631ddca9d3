// Package replay stores finished terminal recordings. A session hands its
// local cast file to the Uploader on close; the Uploader pushes it to the
// configured Store, records the upload for audit, and removes the local
// copy. Storage failures are logged and never block session teardown.
package replay

import "io"

// Store persists one replay file and returns the location clients can
// fetch it from later.
type Store interface {
	Save(name string, r io.Reader) (url string, err error)
}
