package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCatalog(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("digest.pre", func() (Plugin, error) {
		return &fakeTask{name: "pre", id: "Digest", version: "1.0.0", stage: StagePre}, nil
	})
	r.MustRegister("digest.main", func() (Plugin, error) {
		return &fakeTask{name: "main", id: "digest", version: "1.0.0", stage: StageMain}, nil
	})
	r.MustRegister("digest.verify", func() (Plugin, error) {
		return &fakeCommand{name: "Digest Verify", area: "digest", event: "verify"}, nil
	})
	r.MustRegister("batch", batchFactory("batch"))

	c, err := BuildCatalog(r)
	require.NoError(t, err)

	info, ok := c.Task("DIGEST", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, TaskInfo{PreJob: "digest.pre", Main: "digest.main"}, info)

	_, ok = c.Task("digest", "2.0.0")
	assert.False(t, ok)

	cmd, ok := c.Command("Digest", "VERIFY")
	require.True(t, ok)
	assert.Equal(t, CommandInfo{PluginID: "digest.verify", DisplayName: "Digest Verify"}, cmd)

	_, ok = c.Command("task", "setvariable")
	assert.False(t, ok)
}

func TestBuildCatalogConflicts(t *testing.T) {
	t.Run("task stage", func(t *testing.T) {
		r := NewRegistry()
		for _, id := range []string{"one", "two"} {
			r.MustRegister(id, func() (Plugin, error) {
				return &fakeTask{id: "t", version: "1", stage: StageMain}, nil
			})
		}
		_, err := BuildCatalog(r)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "claimed by")
	})

	t.Run("command", func(t *testing.T) {
		r := NewRegistry()
		for _, id := range []string{"one", "two"} {
			r.MustRegister(id, func() (Plugin, error) {
				return &fakeCommand{area: "a", event: "e"}, nil
			})
		}
		_, err := BuildCatalog(r)
		require.Error(t, err)
	})

	t.Run("bad stage", func(t *testing.T) {
		r := NewRegistry()
		r.MustRegister("x", func() (Plugin, error) {
			return &fakeTask{id: "t", version: "1", stage: "middle"}, nil
		})
		_, err := BuildCatalog(r)
		require.Error(t, err)
	})
}
