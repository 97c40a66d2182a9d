// Package runner is the step interpreter.
//
// A run walks a script's steps in order against one shared scope:
//   - request steps are rendered, sent, captured, passed through handlers
//     and validated, producing one StepResult each
//   - loop steps run their nested steps once per item in a forked scope
//   - include steps bind params and run another script in a forked scope
//
// Forks are merged back when they finish. Runs are strictly sequential.
// Config.ContinueOnFailure and Config.ContinueOnError decide whether a failed
// verdict or a runtime error stops the run; structural errors always do.
package runner
