package container

import (
	"context"
	"testing"

	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUQuota(t *testing.T) {
	assert.Equal(t, int64(100000), cpuQuota(1.0))
	assert.Equal(t, int64(50000), cpuQuota(0.5))
	assert.Equal(t, int64(25000), cpuQuota(0.25))
}

func TestWithIsolationNamespaces(t *testing.T) {
	spec := &oci.Spec{}
	opt := withIsolationNamespaces()
	require.NoError(t, opt(context.Background(), nil, nil, spec))

	require.NotNil(t, spec.Linux)
	types := make([]specs.LinuxNamespaceType, 0, len(spec.Linux.Namespaces))
	for _, ns := range spec.Linux.Namespaces {
		types = append(types, ns.Type)
	}
	assert.ElementsMatch(t, []specs.LinuxNamespaceType{
		specs.PIDNamespace,
		specs.IPCNamespace,
		specs.UTSNamespace,
		specs.MountNamespace,
		specs.NetworkNamespace,
	}, types)
}

func TestBindMounts(t *testing.T) {
	t.Run("ExplicitMode", func(t *testing.T) {
		out := bindMounts([]Mount{
			{HostPath: "/tmp/ws", ContainerPath: "/workspace", Mode: "ro"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, "bind", out[0].Type)
		assert.Equal(t, "/tmp/ws", out[0].Source)
		assert.Equal(t, "/workspace", out[0].Destination)
		assert.Equal(t, []string{"rbind", "ro"}, out[0].Options)
	})

	t.Run("DefaultModeIsReadWrite", func(t *testing.T) {
		out := bindMounts([]Mount{
			{HostPath: "/a", ContainerPath: "/b"},
		})
		require.Len(t, out, 1)
		assert.Equal(t, []string{"rbind", "rw"}, out[0].Options)
	})
}
