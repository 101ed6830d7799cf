package adapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLaunchModeHeuristic(t *testing.T) {
	require.Equal(t, "debug", launchMode("myprog", nil))
	require.Equal(t, "exec", launchMode("myprog.test", nil))
	require.Equal(t, "exec", launchMode("myprog__debug_bin", nil))
	require.Equal(t, "test", launchMode("myprog", []string{"-test.run", "-test.v"}))
	require.Equal(t, "test", launchMode("foo_test.go", nil))
}

func TestGetLaunchArgumentsDefaultsBuildFlagsInDebugMode(t *testing.T) {
	d := NewDelveAdapter(ModeExternal)

	raw, err := d.GetLaunchArguments(LaunchParams{Program: "main.go"})
	require.NoError(t, err)

	var decoded delveLaunchArgs
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "debug", decoded.Mode)
	require.Equal(t, "-gcflags=all=-N -l", decoded.BuildFlags)
}

func TestGetLaunchArgumentsRespectsExplicitBuildFlags(t *testing.T) {
	d := NewDelveAdapter(ModeExternal)

	raw, err := d.GetLaunchArguments(LaunchParams{
		Program: "main.go",
		Extra:   map[string]interface{}{"buildFlags": "-tags=integration"},
	})
	require.NoError(t, err)

	var decoded delveLaunchArgs
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "-tags=integration", decoded.BuildFlags)
}

func TestGetAttachArgumentsModeSelection(t *testing.T) {
	d := NewDelveAdapter(ModeExternal)

	raw, err := d.GetAttachArguments(AttachParams{ProcessID: 1234})
	require.NoError(t, err)
	var local delveAttachArgs
	require.NoError(t, json.Unmarshal(raw, &local))
	require.Equal(t, "local", local.Mode)
	require.Equal(t, 1234, local.ProcessID)

	raw, err = d.GetAttachArguments(AttachParams{Host: "127.0.0.1", Port: 4040})
	require.NoError(t, err)
	var remote delveAttachArgs
	require.NoError(t, json.Unmarshal(raw, &remote))
	require.Equal(t, "remote", remote.Mode)
	require.Equal(t, 4040, remote.Port)
}

func TestCreateAttachTransportRequiresHostAndPort(t *testing.T) {
	d := NewDelveAdapter(ModeExternal)

	_, err := d.CreateAttachTransport(AttachParams{})
	require.Error(t, err)

	tr, err := d.CreateAttachTransport(AttachParams{Host: "127.0.0.1", Port: 4040})
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestRegistryLookupByAlias(t *testing.T) {
	d := NewDelveAdapter(ModeExternal)
	r := NewRegistry(d)

	got, ok := r.Lookup("delve")
	require.True(t, ok)
	require.Same(t, d, got)

	got, ok = r.Lookup("dlv")
	require.True(t, ok)
	require.Same(t, d, got)

	_, ok = r.Lookup("nonexistent")
	require.False(t, ok)
}
