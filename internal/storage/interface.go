package storage

// ObjectStore mirrors a remote image into durable storage and returns the
// public URL of the mirrored copy.
type ObjectStore interface {
	MirrorImage(sourceURL, keyPrefix string) (string, error)
}
