package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/abdul-hamid-achik/hitscript/packages/core/config"
	"github.com/abdul-hamid-achik/hitscript/packages/core/parser"
)

// collectFiles expands args into script files. Directories are walked;
// explicitly named files are taken whatever their extension.
func collectFiles(args []string) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		err = filepath.Walk(arg, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if !info.IsDir() && isScriptFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return files, nil
}

// isScriptFile matches YAML and JSON files other than config files.
func isScriptFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return false
	}
	return !slices.Contains(config.ConfigFilenames, filepath.Base(path))
}

// referencedScripts returns the files script loads by path through loops
// and includes, resolved against the script's directory.
func referencedScripts(script *parser.Script) []string {
	var refs []string
	var walk func(base *parser.Script, steps []*parser.Step)
	walk = func(base *parser.Script, steps []*parser.Step) {
		for _, step := range steps {
			switch step.Kind() {
			case parser.StepLoop:
				if step.Loop.ScriptPath != "" {
					refs = append(refs, resolveRef(base, step.Loop.ScriptPath))
				}
				walk(base, step.Loop.Steps)
			case parser.StepInclude:
				if step.Include.Path != "" {
					refs = append(refs, resolveRef(base, step.Include.Path))
				}
				if step.Include.Script != nil {
					walk(step.Include.Script, step.Include.Script.Steps)
				}
			}
		}
	}
	walk(script, script.Steps)
	return refs
}

func resolveRef(base *parser.Script, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base.Dir(), path)
}

// printStepTree writes one line per step, nesting loop and include bodies.
func printStepTree(w io.Writer, steps []*parser.Step, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, step := range steps {
		switch step.Kind() {
		case parser.StepLoop:
			fmt.Fprintf(w, "%s- %s (var %s)\n", indent, step.Label(), step.Loop.Var)
			if step.Loop.ScriptPath != "" {
				fmt.Fprintf(w, "%s  script %s\n", indent, step.Loop.ScriptPath)
			}
			printStepTree(w, step.Loop.Steps, depth+1)
		case parser.StepInclude:
			fmt.Fprintf(w, "%s- %s\n", indent, step.Label())
			if step.Include.Script != nil {
				printStepTree(w, step.Include.Script.Steps, depth+1)
			}
		default:
			fmt.Fprintf(w, "%s- %s\n", indent, step.Label())
		}
	}
}
