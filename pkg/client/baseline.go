package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"ampos-license-server/pkg/envelope"
	"ampos-license-server/pkg/hash"
)

var ErrBaselineUnreadable = errors.New("checksum baseline cannot be opened")

// Baseline keeps the per-file checksums of a client install in a file sealed
// with the shared secret. The first Verify records the checksums and later
// calls compare against them.
type Baseline struct {
	path   string
	cipher *envelope.Cipher
}

func NewBaseline(path string, cipher *envelope.Cipher) *Baseline {
	return &Baseline{path: path, cipher: cipher}
}

// Verify returns the files whose checksum differs from the recorded one.
// Files missing now or absent from the record are not compared.
func (b *Baseline) Verify(files []string) ([]string, error) {
	current := make(map[string]string, len(files))
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		sum, err := hash.File(f)
		if err != nil {
			return nil, err
		}
		current[f] = sum
	}

	raw, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil, b.write(current)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checksum baseline: %w", err)
	}

	var stored map[string]string
	if err := b.cipher.Open(strings.TrimSpace(string(raw)), &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBaselineUnreadable, err)
	}

	var modified []string
	for f, sum := range current {
		if want, ok := stored[f]; ok && !hash.Equal(want, sum) {
			modified = append(modified, f)
		}
	}
	sort.Strings(modified)
	return modified, nil
}

func (b *Baseline) write(sums map[string]string) error {
	token, err := b.cipher.Seal(sums)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o700); err != nil {
		return fmt.Errorf("failed to create baseline directory: %w", err)
	}
	if err := os.WriteFile(b.path, []byte(token), 0o400); err != nil {
		return fmt.Errorf("failed to write checksum baseline: %w", err)
	}
	return nil
}
