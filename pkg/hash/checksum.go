package hash

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
)

// File returns the hex SHA-256 digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Files computes the code checksum a client reports to the portal: the
// SHA-256 of the per-file digests joined with "|". Missing files are skipped
// so optional modules do not change the result.
func Files(paths []string) (string, error) {
	digests := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}

		d, err := File(p)
		if err != nil {
			return "", err
		}
		digests = append(digests, d)
	}

	if len(digests) == 0 {
		return "", fmt.Errorf("no files to checksum")
	}

	sum := sha256.Sum256([]byte(strings.Join(digests, "|")))
	return hex.EncodeToString(sum[:]), nil
}

// Equal compares two checksums in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
