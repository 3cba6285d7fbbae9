package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique crawl job ID with the "job_" prefix
// Format: job_<uuid>
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewItemID generates a unique queue item ID with the "item_" prefix
// Format: item_<uuid>
func NewItemID() string {
	return "item_" + uuid.New().String()
}

// NewUserToken generates an opaque anonymous user token
func NewUserToken() string {
	return "usr_" + uuid.New().String()
}
