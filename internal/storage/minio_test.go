package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStagedKey(t *testing.T) {
	key := StagedKey("task-1", 7, ".JPG")
	assert.Equal(t, "enrollments/task-1/007.jpg", key)
	assert.True(t, len(key) > len(StagePrefix("task-1")))
	assert.Equal(t, StagePrefix("task-1"), key[:len(StagePrefix("task-1"))])
}
