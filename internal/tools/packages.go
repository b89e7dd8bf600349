package tools

import (
	"context"
	"strings"
)

// PackagePlan lists OS-level and Python-level packages to install.
type PackagePlan struct {
	Apt []string
	Pip []string
}

// Packages turns a PackagePlan into install command lines and runs them
// through the shell adapter.
type Packages struct {
	Shell *Shell
}

// Commands renders the install command lines for plan. The confirmation
// flag is only added when autoYes is set.
func (p *Packages) Commands(plan PackagePlan, autoYes bool) []string {
	var cmds []string
	if len(plan.Apt) > 0 {
		yes := ""
		if autoYes {
			yes = " -y"
		}
		cmds = append(cmds, "sudo apt-get update -y")
		cmds = append(cmds, "sudo apt-get install"+yes+" "+strings.Join(plan.Apt, " "))
	}
	if len(plan.Pip) > 0 {
		cmds = append(cmds, "pip3 install "+strings.Join(plan.Pip, " "))
	}
	return cmds
}

// Ensure executes the plan's commands in order, stopping at the first
// non-zero exit. Dry run returns the planned commands without executing.
func (p *Packages) Ensure(ctx context.Context, plan PackagePlan, autoYes, dryRun bool) Result {
	cmds := p.Commands(plan, autoYes)
	if dryRun {
		return Result{OK: true, Stdout: strings.Join(cmds, "\n"), ExitCode: 0,
			Extra: map[string]string{"planned_commands": strings.Join(cmds, "\n")}}
	}

	var stdout, stderr []string
	for _, c := range cmds {
		res := p.Shell.Run(ctx, c, ShellOptions{})
		stdout = append(stdout, res.Stdout)
		stderr = append(stderr, res.Stderr)
		if !res.OK {
			return Result{OK: false, Stdout: strings.Join(stdout, "\n"), Stderr: strings.Join(stderr, "\n"), ExitCode: res.ExitCode}
		}
	}
	return Result{OK: true, Stdout: strings.Join(stdout, "\n"), Stderr: strings.Join(stderr, "\n"), ExitCode: 0}
}
