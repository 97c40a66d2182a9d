package cmd

import (
	"fmt"

	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
	"github.com/abdul-hamid-achik/hitscript/packages/core/runner"
	"github.com/abdul-hamid-achik/hitscript/packages/handlers"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file|directory>...",
	Short: "Check scripts without running them",
	Long: `Load scripts, every script they include or loop over by path, and
check that the handlers they name are registered. Nothing is sent.

Examples:
  hitscript validate users.yaml
  hitscript validate ./scenarios/`,
	Args: cobra.MinimumNArgs(1),
	RunE: validateCommand,
}

func validateCommand(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args)
	if err != nil {
		return &exitError{code: ExitUsageError, err: err}
	}
	if len(files) == 0 {
		return &exitError{code: ExitUsageError, err: fmt.Errorf("no script files found")}
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	registry := runner.NewRunner(nil).Handlers()
	hasErrors := false
	for _, file := range files {
		problems := validateScriptFile(file, registry)
		if len(problems) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green("✓"), file)
			continue
		}
		hasErrors = true
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", red("✗"), file)
		for _, p := range problems {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", p)
		}
	}

	if hasErrors {
		return &exitError{code: ExitParseError, err: fmt.Errorf("validation failed")}
	}
	return nil
}

// validateScriptFile loads file and what it references, once each.
func validateScriptFile(file string, registry *handlers.Registry) []error {
	var problems []error
	seen := map[string]bool{}
	var check func(path string)
	check = func(path string) {
		if seen[path] {
			return
		}
		seen[path] = true

		script, err := parser.ParseFile(path)
		if err != nil {
			problems = append(problems, err)
			return
		}
		for _, name := range handlerNames(script) {
			if _, ok := registry.Get(name); !ok {
				problems = append(problems, fmt.Errorf("%s: handler %q is not registered", path, name))
			}
		}
		for _, ref := range referencedScripts(script) {
			check(ref)
		}
	}
	check(file)
	return problems
}

// handlerNames lists the handlers a script declares or calls.
func handlerNames(script *parser.Script) []string {
	var names []string
	if script.Init != nil {
		names = append(names, script.Init.Handlers...)
	}
	var walk func(steps []*parser.Step)
	walk = func(steps []*parser.Step) {
		for _, step := range steps {
			switch step.Kind() {
			case parser.StepLoop:
				walk(step.Loop.Steps)
			case parser.StepInclude:
				if step.Include.Script != nil {
					names = append(names, handlerNames(step.Include.Script)...)
				}
			default:
				if step.Request == nil {
					continue
				}
				for _, call := range step.Request.Handlers {
					names = append(names, call.Name)
				}
			}
		}
	}
	walk(script.Steps)
	return names
}
