package localfs

import (
	"crypto/sha256"

	"github.com/spf13/afero"
)

// hashFile computes a content checksum for a regular file. The walk calls
// it for every regular file, placeholders included (a zero-byte
// placeholder yields the SHA-256 of empty input).
func hashFile(fsys afero.Fs, path string) ([]byte, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(data)
	return sum[:], nil
}
