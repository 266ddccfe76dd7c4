package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arch-studio/engine/internal/api/types"
	appErr "github.com/arch-studio/engine/pkg/errors"
)

func TestCheckNamesJSONField(t *testing.T) {
	err := Check(types.ApproveRequest{Type: "SCENE"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Contains(t, err.Error(), "type failed on eq=PATCH")

	assert.NoError(t, Check(types.ApproveRequest{Type: "PATCH"}))
}

func TestCheckStepRequest(t *testing.T) {
	assert.NoError(t, Check(types.StepRequest{}))
	assert.NoError(t, Check(types.StepRequest{Action: "deep_dive"}))
	assert.Error(t, Check(types.StepRequest{Action: "rewind"}))
}
