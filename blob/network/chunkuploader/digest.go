package chunkuploader

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
)

// Digest describes the whole content of a source.
type Digest struct {
	// MD5 is the hex-encoded MD5 sum, sent as the `_checksum` metadata field.
	MD5 string
	// SHA1 is the hex-encoded SHA-1 sum, sent with session/slice requests.
	SHA1 string
	Size int64
}

// ComputeDigest rewinds source to its start and hashes all of it in one pass.
func ComputeDigest(source io.ReadSeeker) (Digest, error) {
	if _, err := source.Seek(0, io.SeekStart); err != nil {
		return Digest{}, fmt.Errorf("rewind source: %w", err)
	}

	md5Hash := md5.New()
	sha1Hash := sha1.New()
	size, err := io.Copy(io.MultiWriter(md5Hash, sha1Hash), source)
	if err != nil {
		return Digest{}, fmt.Errorf("hash source: %w", err)
	}

	return Digest{
		MD5:  hex.EncodeToString(md5Hash.Sum(nil)),
		SHA1: hex.EncodeToString(sha1Hash.Sum(nil)),
		Size: size,
	}, nil
}
