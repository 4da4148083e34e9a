package model

import "sort"

// PartRef names one chunk of a split model archive. ContentID is the
// storage network address of the chunk, not a digest of its bytes.
type PartRef struct {
	FileName  string `json:"file"`
	ContentID string `json:"hash"`
}

// Manifest is the gateway metadata document describing a model artifact.
type Manifest struct {
	Model    string    `json:"model"`
	NumFiles int       `json:"num_of_file"`
	Parts    []PartRef `json:"files"`
}

// PartsInOrder returns the parts sorted by file name. Split archives carry
// an ordered suffix (.part-aa, .part-ab, ...) so lexical order is the
// concatenation order. Decompressing out of order corrupts the stream, so
// callers assembling the archive must use this and never completion order.
func (m *Manifest) PartsInOrder() []PartRef {
	parts := make([]PartRef, len(m.Parts))
	copy(parts, m.Parts)

	sort.Slice(parts, func(i, j int) bool {
		return parts[i].FileName < parts[j].FileName
	})

	return parts
}
