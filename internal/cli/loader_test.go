package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadProject(t *testing.T) {
	loaded, err := LoadProject(projectDir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.FileCount)
	assert.Equal(t, "shop", loaded.Project.ID)
	assert.Equal(t, []string{"staging", "prod"}, loaded.Project.TargetIDs())
}

func TestMapFieldToErrorCode(t *testing.T) {
	tests := []struct {
		field string
		want  string
	}{
		{"use", ErrCodeInvalidUse},
		{"type", ErrCodeInvalidType},
		{"cue", ErrCodeBuildFailed},
		{"project", ErrCodeMissingField},
		{"targets", ErrCodeMissingField},
		{"targets.prod.streams.api.type", ErrCodeInvalidField},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			assert.Equal(t, tt.want, MapFieldToErrorCode(tt.field))
		})
	}
}
