package common

import (
	"github.com/google/uuid"
)

// NewDocumentID generates a unique document ID with the "doc_" prefix.
// Minted per call; never stored as a shared default.
func NewDocumentID() string {
	return "doc_" + uuid.New().String()
}
