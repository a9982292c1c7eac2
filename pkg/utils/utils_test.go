package utils

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	require.True(t, strings.HasPrefix(id, "session_"))

	_, err := uuid.Parse(strings.TrimPrefix(id, "session_"))
	assert.NoError(t, err)
	assert.NotEqual(t, id, NewSessionID())
}

func TestMaskSensitive(t *testing.T) {
	assert.Equal(t, "*********c123", MaskSensitive("live_abc_c123", 4))
	assert.Equal(t, "***", MaskSensitive("abc", 4))
	assert.Equal(t, "****", MaskSensitive("abcd", 0))
	assert.Equal(t, "", MaskSensitive("", 4))
}
