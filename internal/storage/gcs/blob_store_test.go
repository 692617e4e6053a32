package gcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRequiresClient(t *testing.T) {
	_, err := New(nil, Config{Bucket: "artifacts"})
	assert.Error(t, err)
}
