// Package workspace defines the five Copilot workspaces: their identities,
// system prompts, and the UI action links derived from a finished run.
package workspace

import (
	"errors"
	"fmt"
)

const (
	PlantOps = "plantops"
	FSQ      = "fsq"
	Planning = "planning"
	Brand    = "brand"
	Retail   = "retail"
)

var ErrUnknownWorkspace = errors.New("unknown workspace")

var all = []string{PlantOps, FSQ, Planning, Brand, Retail}

// All lists the workspace names in a stable order.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

// Validate returns ErrUnknownWorkspace for names outside the fixed set.
func Validate(name string) error {
	for _, w := range all {
		if w == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownWorkspace, name)
}

// SystemPrompt returns the workspace's system prompt, or the empty string for
// unknown workspaces.
func SystemPrompt(name string) string {
	switch name {
	case PlantOps:
		return plantOpsPrompt
	case FSQ:
		return fsqPrompt
	case Planning:
		return planningPrompt
	case Brand:
		return brandPrompt
	case Retail:
		return retailPrompt
	}
	return ""
}
