package prompt

// Package prompt holds the instruction templates for each reasoning phase.
//
// Every phase has a system template (role, task, output contract) and a
// user template filled in by placeholder substitution. Placeholders use the
// {{.Name}} form.

import (
	"fmt"
	"strings"
)

// Phase identifies one step of the reasoning pipeline.
type Phase string

const (
	PhaseInferVersion    Phase = "infer_version"
	PhaseCausalReasoning Phase = "causal_reasoning"
	PhaseVerify          Phase = "verify"
	PhaseEmitDocs        Phase = "emit_docs"
	PhaseEmitPatch       Phase = "emit_patch"
	PhaseBundle          Phase = "bundle"
)

// Vars are placeholder values keyed by name (without braces).
type Vars map[string]string

// Manager renders phase prompts.
type Manager interface {
	// System returns the system instructions for phase.
	System(phase Phase) (string, error)

	// User renders the user turn for phase.
	User(phase Phase, vars Vars) (string, error)
}

type managerImpl struct{}

// NewManager creates a prompt manager over the built-in templates.
func NewManager() Manager {
	return &managerImpl{}
}

func (m *managerImpl) System(phase Phase) (string, error) {
	tmpl, ok := systemTemplates[phase]
	if !ok {
		return "", fmt.Errorf("unknown phase: %s", phase)
	}
	return tmpl, nil
}

func (m *managerImpl) User(phase Phase, vars Vars) (string, error) {
	tmpl, ok := userTemplates[phase]
	if !ok {
		return "", fmt.Errorf("unknown phase: %s", phase)
	}
	return Render(tmpl, vars), nil
}

// Render substitutes every {{.Name}} placeholder with vars[Name]. Missing
// variables render as empty text. Substituted values are not rescanned.
func Render(tmpl string, vars Vars) string {
	var sb strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{.")
		if start < 0 {
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			break
		}
		sb.WriteString(rest[:start])
		sb.WriteString(vars[rest[start+3:start+end]])
		rest = rest[start+end+2:]
	}
	sb.WriteString(rest)
	return sb.String()
}
