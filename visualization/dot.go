// Package visualization renders state machine definitions as Graphviz DOT.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/anggasct/tracklock/pkg/fsm"
)

// DOTGenerator generates Graphviz DOT format representations of state machines
type DOTGenerator struct {
	definition *fsm.Definition
	options    DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowEvents      bool
	ShowGuards      bool
	ShowActions     bool
	RankDirection   string // "TB", "LR", "BT", "RL"
	NodeShape       string
	TransitionStyle string
	// Highlight marks one state, typically the current one
	Highlight string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowEvents:      true,
		ShowGuards:      true,
		ShowActions:     true,
		RankDirection:   "LR",
		NodeShape:       "box",
		TransitionStyle: "solid",
	}
}

// NewDOTGenerator creates a new DOT generator for the given definition
func NewDOTGenerator(definition *fsm.Definition, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{definition: definition, options: opts}
}

// Generate creates a DOT representation of the state machine
func (g *DOTGenerator) Generate() (string, error) {
	if g.definition == nil {
		return "", fmt.Errorf("no definition to render")
	}
	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	g.generateStates(&dot)
	g.generateTransitions(&dot)

	dot.WriteString("}\n")
	return dot.String(), nil
}

func (g *DOTGenerator) generateStates(dot *strings.Builder) {
	initial := g.definition.GetInitialState()

	dot.WriteString("  // States\n")
	for _, id := range g.definition.GetStates() {
		state, _ := g.definition.GetState(id)

		shape := g.options.NodeShape
		fillColor := "lightblue"
		label := id
		if id == initial {
			fillColor = "lightgreen"
			label += "\\n(initial)"
		}
		if state != nil && state.IsFinal() {
			shape = "doublecircle"
			fillColor = "lightcoral"
		}
		penwidth := 1
		if id == g.options.Highlight {
			penwidth = 3
		}

		dot.WriteString(fmt.Sprintf("  \"%s\" [shape=%s style=\"filled\" fillcolor=%s penwidth=%d label=\"%s\"];\n",
			id, shape, fillColor, penwidth, label))
	}
	dot.WriteString("\n")
}

func (g *DOTGenerator) generateTransitions(dot *strings.Builder) {
	transitions := g.definition.GetTransitions()
	sources := make([]string, 0, len(transitions))
	for from := range transitions {
		sources = append(sources, from)
	}
	sort.Strings(sources)

	dot.WriteString("  // Transitions\n")
	for _, from := range sources {
		for _, t := range transitions[from] {
			dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [style=%s%s];\n",
				from, t.TargetState, g.options.TransitionStyle, g.edgeLabel(t)))
		}
	}
}

func (g *DOTGenerator) edgeLabel(t fsm.Transition) string {
	var parts []string
	if g.options.ShowEvents && t.Event != "" {
		parts = append(parts, t.Event)
	}
	if g.options.ShowGuards && t.Guard != nil {
		parts = append(parts, "[guard]")
	}
	if g.options.ShowActions && t.Action != nil {
		parts = append(parts, "/ action")
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf(" label=\"%s\"", strings.Join(parts, " "))
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, []byte(content), 0644)
}

// GenerateSVG pipes the DOT output through the Graphviz dot command
func (g *DOTGenerator) GenerateSVG() (string, error) {
	dotContent, err := g.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}
	return out.String(), nil
}
