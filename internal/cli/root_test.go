package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_FlagDefaults(t *testing.T) {
	cmd := NewRootCommand()

	start, err := cmd.Flags().GetUint64("start")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), start)

	blocks, err := cmd.Flags().GetUint64("blocks")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), blocks)

	step, err := cmd.Flags().GetUint64("step")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), step)

	verbose, err := cmd.Flags().GetBool("verbose")
	require.NoError(t, err)
	assert.False(t, verbose)
}

func TestNewRootCommand_NoOtherFlags(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		names = append(names, f.Name)
	})
	assert.ElementsMatch(t, []string{"start", "blocks", "step", "verbose"}, names)
}

func TestValidateOptions_RejectsZeroStep(t *testing.T) {
	err := validateOptions(&Options{Step: 0, Blocks: 1})
	require.Error(t, err)
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestValidateOptions_AcceptsDefaults(t *testing.T) {
	require.NoError(t, validateOptions(&Options{Step: 10, Blocks: 1}))
}

func TestExitError_MessageAndWrapping(t *testing.T) {
	base := fmt.Errorf("underlying")
	err := WrapExitError(ExitUsageError, "configuration error", base)

	assert.Equal(t, "configuration error: underlying", err.Error())
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, ExitUsageError, GetExitCode(err))
}

func TestGetExitCode_PlainError(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("boom")))
}
