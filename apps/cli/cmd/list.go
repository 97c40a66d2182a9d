package cmd

import (
	"fmt"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <file|directory>...",
	Short: "List the steps of each script",
	Long: `List every step of each script as a table, nesting loop and
include bodies under the step that runs them.

Examples:
  hitscript list users.yaml
  hitscript list ./scenarios/`,
	Args: cobra.MinimumNArgs(1),
	RunE: listCommand,
}

func listCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	if len(files) == 0 {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("no script files found")}
	}

	for _, file := range files {
		script, err := parser.ParseFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error parsing %s: %v\n", file, err)
			continue
		}

		title := file
		if script.Name != "" {
			title = fmt.Sprintf("%s (%s)", file, script.Name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", text.FgHiCyan.Sprint(title))

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"#", "Step", "Kind", "Target", "Line"})
		n := 0
		appendStepRows(t, script.Steps, 0, &n)
		t.Render()
	}

	return nil
}

func appendStepRows(t table.Writer, steps []*parser.Step, depth int, n *int) {
	for _, step := range steps {
		*n++
		name := strings.Repeat("  ", depth) + step.Label()
		t.AppendRow(table.Row{*n, name, step.Kind().String(), stepTarget(step), step.Line})

		switch step.Kind() {
		case parser.StepLoop:
			appendStepRows(t, step.Loop.Steps, depth+1, n)
		case parser.StepInclude:
			if step.Include.Script != nil {
				appendStepRows(t, step.Include.Script.Steps, depth+1, n)
			}
		}
	}
}

// stepTarget is the request line, loop source or include path of a step.
func stepTarget(step *parser.Step) string {
	switch step.Kind() {
	case parser.StepLoop:
		src := fmt.Sprint(step.Loop.Over)
		if step.Loop.ScriptPath != "" {
			return fmt.Sprintf("%s -> %s", src, step.Loop.ScriptPath)
		}
		return src
	case parser.StepInclude:
		if step.Include.Path != "" {
			return step.Include.Path
		}
		return "(inline)"
	default:
		if step.Request == nil {
			return ""
		}
		target := step.Request.Path
		if target == "" {
			target = step.Request.URI
		}
		if step.Request.Server != "" {
			target = step.Request.Server + ":" + target
		}
		return strings.TrimSpace(step.Request.Method + " " + target)
	}
}
