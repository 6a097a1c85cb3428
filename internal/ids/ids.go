// Package ids provides stable identifiers for documents, chunks, and
// generated records.
package ids

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
)

const (
	filePrefix  = "file:"
	chunkPrefix = "chk_"
)

// FileDocumentID returns a stable document ID for the given file path.
// Same path always yields the same ID, so re-ingesting a file replaces it.
func FileDocumentID(path string) string {
	normalized := filepath.Clean(path)
	hash := sha256.Sum256([]byte(normalized))
	return filePrefix + hex.EncodeToString(hash[:])
}

// ChunkID returns the ID of the chunk at index within documentID.
// IDs stay the same across embedding reprocessing.
func ChunkID(documentID string, index int) string {
	hash := sha256.Sum256([]byte(documentID + "#" + strconv.Itoa(index)))
	return chunkPrefix + hex.EncodeToString(hash[:12])
}

// NewDocumentID returns a random document ID.
func NewDocumentID() string { return "doc_" + uuid.NewString() }

// NewTopicID returns a random topic ID.
func NewTopicID() string { return "topic_" + uuid.NewString() }

// NewKnowledgeID returns a random knowledge base entry ID.
func NewKnowledgeID() string { return "kb_" + uuid.NewString() }

// NewQAID returns a random QA pair ID.
func NewQAID() string { return "qa_" + uuid.NewString() }
