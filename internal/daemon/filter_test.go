package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chichichkin/ddlogs/internal/logging"
)

func TestLineFilter_Disabled(t *testing.T) {
	f, err := newLineFilter("  ")
	require.NoError(t, err)
	assert.True(t, f.Eval(parsedLine{}, nil))
}

func TestLineFilter_Eval(t *testing.T) {
	f, err := newLineFilter(`level != "debug" && namespace != "kube-system" && labels["team"] == "core"`)
	require.NoError(t, err)

	labels := map[string]string{"namespace": "default", "team": "core"}
	assert.True(t, f.Eval(parsedLine{Message: "m", Level: logging.LevelInfo}, labels))
	assert.False(t, f.Eval(parsedLine{Message: "m", Level: logging.LevelDebug}, labels))

	labels["namespace"] = "kube-system"
	assert.False(t, f.Eval(parsedLine{Message: "m", Level: logging.LevelInfo}, labels))
}

func TestLineFilter_RuntimeErrorDrops(t *testing.T) {
	f, err := newLineFilter(`labels["missing"] == "x"`)
	require.NoError(t, err)
	assert.False(t, f.Eval(parsedLine{}, map[string]string{}))
}
