package safeio

import "github.com/minio/highwayhash"

var fingerprintKey = []byte("pbipkit-content-fingerprint-key!")

// Fingerprint hashes content. Plans record it per file so a transaction can
// tell whether a file changed after the plan was made.
func Fingerprint(content []byte) uint64 {
	return highwayhash.Sum64(content, fingerprintKey)
}
