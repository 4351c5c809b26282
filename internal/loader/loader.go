package loader

import (
	"os"

	"github.com/rendis/botflow/internal/expressions"
	"github.com/rendis/botflow/internal/machine"
	"github.com/rendis/botflow/pkg/schema"
)

// Load parses, validates, and compiles a bot document into a finalized
// workflow definition.
func Load(raw []byte) (*machine.Definition, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Build(doc)
}

// LoadFile is Load over a file path.
func LoadFile(path string) (*machine.Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "cannot read bot document %q", path).WithCause(err)
	}
	return Load(raw)
}

// Build compiles a Document into a finalized definition. Plugins compile
// first so the parent can register them before its own tasks reference them.
func Build(doc *Document) (*machine.Definition, error) {
	d := machine.New(doc.Name)

	for _, name := range doc.Engines {
		eng, err := newEngine(name)
		if err != nil {
			return nil, err
		}
		if err := d.RegisterEngine(eng); err != nil {
			return nil, err
		}
	}

	for name, childDoc := range doc.Plugins {
		child, err := Build(childDoc)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodePlugin,
				"compile plugin %q: %s", name, err.Error()).WithCause(err)
		}
		if err := d.AddPlugin(name, child); err != nil {
			return nil, err
		}
	}

	if err := d.AddTransition(machine.StartState, doc.Start); err != nil {
		return nil, err
	}

	for _, task := range doc.Tasks {
		if err := addTask(d, task); err != nil {
			return nil, err
		}
	}

	if len(doc.Outputs) > 0 {
		if err := d.Outputs(doc.Outputs...); err != nil {
			return nil, err
		}
	}

	if err := d.Finalize(); err != nil {
		return nil, err
	}
	return d, nil
}

func addTask(d *machine.Definition, task TaskDoc) error {
	switch task.Type {
	case TaskDisplay:
		return d.AddDisplayTask(task.Name, task.Dest, task.Message, displayOpts(task))

	case TaskInput:
		return d.AddInputTask(task.Name, task.Message, machine.InputTaskConfig{
			SuccessDest:    task.OnSuccess,
			FailDest:       task.OnFail,
			WriteVar:       task.WriteVar,
			ValidationExpr: task.Validation,
			Display:        displayOpts(task),
		})

	case TaskBranch:
		rules := make([]machine.BranchRule, len(task.Rules))
		for i, r := range task.Rules {
			rules[i] = machine.BranchRule{
				Dest:       r.Dest,
				Guard:      r.Guard,
				Variable:   r.Variable,
				Expression: r.Expression,
				Engine:     r.Engine,
			}
		}
		return d.AddBranchingTask(task.Name, rules)

	case TaskPlugin:
		rules := make([]machine.PluginRule, len(task.Rules))
		for i, r := range task.Rules {
			rules[i] = machine.PluginRule{Code: r.Code, Dest: r.Dest}
		}
		return d.AddPluginTask(task.Name, task.Message, task.Plugin,
			task.InputVars, task.OutputVars, rules)

	default:
		return schema.NewErrorf(schema.ErrCodeValidation,
			"task %q has unknown type %q", task.Name, task.Type)
	}
}

func displayOpts(task TaskDoc) *machine.DisplayOpts {
	return &machine.DisplayOpts{
		Options:      task.Options,
		Dialog:       task.Dialog,
		MenuSelector: task.MenuSelector,
		MenuTitle:    task.MenuTitle,
		MediaURL:     task.MediaURL,
		DestChannel:  task.Channel,
	}
}

func newEngine(name string) (expressions.Engine, error) {
	switch name {
	case "expr":
		return expressions.NewExprEngine(), nil
	case "cel":
		return expressions.NewCELEngine()
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown expression engine %q", name)
	}
}
