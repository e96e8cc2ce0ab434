package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncConfigThreshold(t *testing.T) {
	flag := syncCmd.Flags().Lookup("threshold")
	t.Cleanup(func() {
		require.NoError(t, flag.Value.Set(flag.DefValue))
		flag.Changed = false
	})

	assert.Nil(t, getSyncConfigFromFlags(syncCmd).Threshold)

	require.NoError(t, syncCmd.Flags().Set("threshold", "0"))
	config := getSyncConfigFromFlags(syncCmd)
	require.NotNil(t, config.Threshold)
	assert.Equal(t, 0.0, *config.Threshold)
}
