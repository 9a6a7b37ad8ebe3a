// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import (
	"errors"
	"fmt"
)

// ErrToolNotFound is returned by Registry.Execute when no tool is
// registered under the requested name. It is the only error Execute
// returns: failures inside a tool come back as result text.
type ErrToolNotFound struct {
	Name string
}

// Error implements the error interface.
func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

// ErrNoEffects means the environment has no way to persist a change.
var ErrNoEffects = errors.New("no workspace store is attached to this session")
