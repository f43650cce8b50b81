// Package manifest defines the dataset package manifest: the list of chunks
// that make up a published dataset version, plus a deterministic content
// identity derived from it.
//
// The identity (PackageID) is the hex SHA-256 of the manifest's canonical
// form: chunks hashed in ascending id order with the identity fields
// themselves excluded, so two manifests describing the same content hash
// identically no matter how their chunk lists were assembled.
package manifest

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// CurrentVersion is the manifest schema version this package reads and
	// writes.
	CurrentVersion = "1.0"

	// FileName is the well-known manifest filename inside a package directory.
	FileName = "dataset.manifest.json"
)

var (
	// ErrUnsupportedVersion indicates a manifest written by an incompatible
	// schema version.
	ErrUnsupportedVersion = errors.New("manifest: unsupported version")

	// ErrDuplicateChunk indicates two chunk entries sharing an id.
	ErrDuplicateChunk = errors.New("manifest: duplicate chunk id")
)

// IdentityMismatchError reports a package whose declared identity does not
// match its recomputed content hash.
type IdentityMismatchError struct {
	Declared string
	Computed string
}

func (e *IdentityMismatchError) Error() string {
	return fmt.Sprintf("manifest: identity mismatch: declared %s, computed %s", e.Declared, e.Computed)
}

// Manifest describes one published dataset package.
type Manifest struct {
	Version     string       `json:"version"`
	PackageID   string       `json:"package_id"`
	Name        string       `json:"name,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	Chunks      []ChunkEntry `json:"chunks"`
}

// ChunkEntry describes a single chunk file within the package. The optional
// baked metadata (bounds, time domain, feature count) lets loaders prune
// chunks without opening them.
type ChunkEntry struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	Path           string `json:"path"`
	ContentHash    string `json:"content_hash,omitempty"`
	SourceBlobHash string `json:"source_blob_hash,omitempty"`

	// Quantized to 1e-6 degrees: [minLon, minLat, maxLon, maxLat].
	LonLatBoundsQ *[4]int32 `json:"lon_lat_bounds_q,omitempty"`
	// Microseconds: [minStart, maxEnd].
	TimeBoundsUS *[2]int64 `json:"time_bounds_us,omitempty"`
	FeatureCount *uint32   `json:"feature_count,omitempty"`
}

// New returns an empty manifest at the current schema version. The package
// identity is assigned by Seal once all chunks are added.
func New(name string) *Manifest {
	return &Manifest{
		Version: CurrentVersion,
		Name:    name,
	}
}

// HashBytes returns the hex SHA-256 of raw chunk bytes, the value stored in
// ChunkEntry.ContentHash.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EqualHash compares two hex digests ignoring case and surrounding space.
// Manifests produced by external tooling may carry either case.
func EqualHash(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// ContentIdentity computes the canonical content hash of the manifest.
// PackageID and ContentHash are excluded from the digest; chunks contribute
// in ascending id order regardless of their slice order.
func (m *Manifest) ContentIdentity() string {
	h := sha256.New()

	writeStr := func(s string) {
		var n [4]byte
		binary.LittleEndian.PutUint32(n[:], uint32(len(s)))
		h.Write(n[:])
		h.Write([]byte(s))
	}

	writeStr(m.Version)
	writeStr(m.Name)

	chunks := slices.Clone(m.Chunks)
	slices.SortFunc(chunks, func(a, b ChunkEntry) int {
		return strings.Compare(a.ID, b.ID)
	})
	for _, c := range chunks {
		writeStr(c.ID)
		writeStr(c.Kind)
		writeStr(c.Path)
		writeStr(strings.ToLower(strings.TrimSpace(c.ContentHash)))
		writeStr(strings.ToLower(strings.TrimSpace(c.SourceBlobHash)))

		var buf [33]byte
		if c.LonLatBoundsQ != nil {
			buf[0] = 1
			for i, v := range c.LonLatBoundsQ {
				binary.LittleEndian.PutUint32(buf[1+i*4:], uint32(v))
			}
			h.Write(buf[:17])
		} else {
			h.Write(buf[:1])
		}
		buf = [33]byte{}
		if c.TimeBoundsUS != nil {
			buf[0] = 1
			for i, v := range c.TimeBoundsUS {
				binary.LittleEndian.PutUint64(buf[1+i*8:], uint64(v))
			}
			h.Write(buf[:17])
		} else {
			h.Write(buf[:1])
		}
		buf = [33]byte{}
		if c.FeatureCount != nil {
			buf[0] = 1
			binary.LittleEndian.PutUint32(buf[1:], *c.FeatureCount)
			h.Write(buf[:5])
		} else {
			h.Write(buf[:1])
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// Seal computes the content identity and stamps it into both ContentHash and
// PackageID. Call after the chunk list is final.
func (m *Manifest) Seal() {
	id := m.ContentIdentity()
	m.ContentHash = id
	m.PackageID = id
}

// Validate checks schema version, chunk-entry well-formedness, and, when the
// manifest declares a content hash, that the declared identity matches the
// recomputed one.
func (m *Manifest) Validate() error {
	if m.Version != CurrentVersion {
		return fmt.Errorf("%w: %q (expected %q)", ErrUnsupportedVersion, m.Version, CurrentVersion)
	}

	seen := make(map[string]struct{}, len(m.Chunks))
	for i, c := range m.Chunks {
		if c.ID == "" {
			return fmt.Errorf("manifest: chunk %d: empty id", i)
		}
		if c.Path == "" {
			return fmt.Errorf("manifest: chunk %q: empty path", c.ID)
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateChunk, c.ID)
		}
		seen[c.ID] = struct{}{}
	}

	if m.ContentHash != "" {
		computed := m.ContentIdentity()
		if !EqualHash(m.ContentHash, computed) {
			return &IdentityMismatchError{Declared: m.ContentHash, Computed: computed}
		}
		if m.PackageID != "" && !EqualHash(m.PackageID, m.ContentHash) {
			return &IdentityMismatchError{Declared: m.PackageID, Computed: m.ContentHash}
		}
	}
	return nil
}

// Chunk returns the entry with the given id.
func (m *Manifest) Chunk(id string) (ChunkEntry, bool) {
	for _, c := range m.Chunks {
		if c.ID == id {
			return c, true
		}
	}
	return ChunkEntry{}, false
}

// VerifyChunk checks raw chunk bytes against the entry's declared hash.
// Entries without a declared hash fail: binary chunks must be pinned.
func VerifyChunk(entry ChunkEntry, data []byte) error {
	if entry.ContentHash == "" {
		return fmt.Errorf("manifest: chunk %q: missing content hash", entry.ID)
	}
	found := HashBytes(data)
	if !EqualHash(entry.ContentHash, found) {
		return fmt.Errorf("manifest: chunk %q: %w", entry.ID,
			&IdentityMismatchError{Declared: entry.ContentHash, Computed: found})
	}
	return nil
}
