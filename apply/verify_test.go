package apply

import (
	"context"
	"testing"

	"github.com/ducks/llmux/stepresult"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunVerifySuccessReturnsNilError(t *testing.T) {
	stdout, _, err := runVerify(context.Background(), t.TempDir(), "echo ok", 0)
	require.Nil(t, err)
	assert.Equal(t, "ok\n", stdout)
}

func TestRunVerifyNonZeroExitIsVerificationFailed(t *testing.T) {
	_, stderr, err := runVerify(context.Background(), t.TempDir(), "echo boom >&2; exit 1", 0)
	require.NotNil(t, err)
	assert.Equal(t, stepresult.KindVerificationFailed, err.Kind)
	assert.Equal(t, 1, err.ExitCode)
	assert.Equal(t, "boom\n", stderr)
}

func TestRunVerifyTimeoutIsClassifiedAsTimeout(t *testing.T) {
	_, _, err := runVerify(context.Background(), t.TempDir(), "sleep 1", 10)
	require.NotNil(t, err)
	assert.Equal(t, stepresult.KindTimeout, err.Kind)
}
