package build

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"strings"
)

// Phase of a customization
type Phase string

// Phases with an external executor, in the order they run
const (
	PhaseDeviceTree Phase = "dt"
	PhaseSplash     Phase = "splash"
	PhaseKernel     Phase = "kernel"
	PhaseBundle     Phase = "bundle"
)

// StepRequest is handed to the executor of a phase
type StepRequest struct {
	Phase Phase
	// Output is the directory the executor writes its result to: a change set, or a
	// container bundle for PhaseBundle. It exists and is empty.
	Output string
	// Storage is the storage area directory
	Storage string
	// Base is the base commit of the build
	Base string
	// Params of the phase, from the manifest. Lists are joined with newlines.
	Params map[string]string
}

// Step executes a customization phase
type Step interface {
	Run(ctx context.Context, req StepRequest) error
}

// CommandStep runs an external command. The request is passed through the environment:
// TCB_PHASE, TCB_OUTPUT, TCB_STORAGE, TCB_BASE, and one TCB_<PARAM> variable per parameter,
// upper-cased with dashes turned into underscores.
type CommandStep struct {
	Command []string
}

// Run the command
func (c *CommandStep) Run(ctx context.Context, req StepRequest) error {
	if len(c.Command) == 0 {
		return ErrStepUnavailable.WrapMessage("%s", req.Phase)
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Env = append(os.Environ(), stepEnv(req)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return ErrStep.WrapMessage("%s: %s", req.Phase, strings.TrimSpace(out.String())).Wrap(err)
	}
	return nil
}

func stepEnv(req StepRequest) []string {
	env := []string{
		"TCB_PHASE=" + string(req.Phase),
		"TCB_OUTPUT=" + req.Output,
		"TCB_STORAGE=" + req.Storage,
		"TCB_BASE=" + req.Base,
	}
	keys := make([]string, 0, len(req.Params))
	for k := range req.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, "TCB_"+strings.ToUpper(strings.ReplaceAll(k, "-", "_"))+"="+req.Params[k])
	}
	return env
}

// params of each phase requested by a manifest
func (m *Manifest) phases() []StepRequest {
	var reqs []StepRequest
	c := m.Customization
	if dt := c.DeviceTree; dt != nil {
		p := map[string]string{
			"include-dirs": joinPaths(m, dt.IncludeDirs),
			"custom":       m.Path(dt.Custom),
		}
		if o := dt.Overlays; o != nil {
			p["overlays-clear"] = boolString(o.Clear)
			p["overlays-add"] = joinPaths(m, o.Add)
			p["overlays-remove"] = strings.Join(o.Remove, "\n")
		}
		reqs = append(reqs, StepRequest{Phase: PhaseDeviceTree, Params: p})
	}
	if c.SplashScreen != "" {
		reqs = append(reqs, StepRequest{Phase: PhaseSplash, Params: map[string]string{"splash-screen": m.Path(c.SplashScreen)}})
	}
	if k := c.Kernel; k != nil && (len(k.Modules) > 0 || len(k.Arguments) > 0) {
		var modules, autoload []string
		for _, mod := range k.Modules {
			modules = append(modules, m.Path(mod.SourceDir))
			autoload = append(autoload, boolString(mod.Autoload))
		}
		reqs = append(reqs, StepRequest{Phase: PhaseKernel, Params: map[string]string{
			"modules":   strings.Join(modules, "\n"),
			"autoload":  strings.Join(autoload, "\n"),
			"arguments": strings.Join(k.Arguments, "\n"),
		}})
	}
	return reqs
}

func joinPaths(m *Manifest, paths []string) string {
	resolved := make([]string, len(paths))
	for i, p := range paths {
		resolved[i] = m.Path(p)
	}
	return strings.Join(resolved, "\n")
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
