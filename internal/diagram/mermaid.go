// Package diagram renders compiled workflow definitions as Mermaid state
// diagrams, mostly for documentation and debugging of authored bots.
package diagram

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rendis/botflow/internal/machine"
)

// Mermaid renders the definition as a stateDiagram-v2 document. Guarded
// transitions carry the guard name as an edge label; nested plugins render
// as composite states.
func Mermaid(def *machine.Definition) string {
	var b strings.Builder
	b.WriteString("stateDiagram-v2\n")
	writeDefinition(&b, def, "    ")
	return b.String()
}

func writeDefinition(b *strings.Builder, def *machine.Definition, indent string) {
	fmt.Fprintf(b, "%s[*] --> %s\n", indent, machine.StartState)

	for _, rule := range def.Rules() {
		dest := rule.Dest
		if dest == machine.EndState {
			dest = "[*]"
		}
		if rule.Guard != "" {
			fmt.Fprintf(b, "%s%s --> %s: %s\n", indent, rule.Source, dest, rule.Guard)
		} else {
			fmt.Fprintf(b, "%s%s --> %s\n", indent, rule.Source, dest)
		}
	}

	plugins := def.PluginDefinitions()
	if len(plugins) == 0 {
		return
	}
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(b, "%sstate %s {\n", indent, name)
		writeDefinition(b, plugins[name], indent+"    ")
		fmt.Fprintf(b, "%s}\n", indent)
	}
}
