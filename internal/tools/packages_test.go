package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackagesCommands(t *testing.T) {
	p := &Packages{}

	t.Run("apt with auto-yes", func(t *testing.T) {
		cmds := p.Commands(PackagePlan{Apt: []string{"git", "jq"}}, true)
		require.Len(t, cmds, 2)
		assert.Equal(t, "sudo apt-get update -y", cmds[0])
		assert.Equal(t, "sudo apt-get install -y git jq", cmds[1])
	})

	t.Run("apt without auto-yes omits the flag", func(t *testing.T) {
		cmds := p.Commands(PackagePlan{Apt: []string{"git"}}, false)
		require.Len(t, cmds, 2)
		assert.Equal(t, "sudo apt-get install git", cmds[1])
	})

	t.Run("pip only", func(t *testing.T) {
		cmds := p.Commands(PackagePlan{Pip: []string{"requests"}}, true)
		require.Len(t, cmds, 1)
		assert.Equal(t, "pip3 install requests", cmds[0])
	})

	t.Run("empty plan yields no commands", func(t *testing.T) {
		assert.Empty(t, p.Commands(PackagePlan{}, true))
	})
}

func TestPackagesEnsureDryRun(t *testing.T) {
	p := &Packages{Shell: &Shell{Paths: testPaths(t)}}
	res := p.Ensure(context.Background(), PackagePlan{Apt: []string{"jq"}}, true, true)
	assert.True(t, res.OK)
	assert.Contains(t, res.Extra["planned_commands"], "apt-get install -y jq")
}
