package script

import (
	"strings"

	"github.com/loykin/devdash/internal/env"
)

// Invocation is a fully resolved child process description.
type Invocation struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
	// Shell asks the launcher to run Program and Args through the platform
	// shell so operators like && or | keep working.
	Shell bool
}

// Line joins program and arguments back into one command line.
func (inv Invocation) Line() string {
	if len(inv.Args) == 0 {
		return inv.Program
	}
	return inv.Program + " " + strings.Join(inv.Args, " ")
}

// BuildInvocation turns a stored command plus per-run arguments and
// environment overrides into an Invocation.
//
// arguments is appended to command after a single space, then the result
// is split on whitespace: the first field is the program, the rest are its
// arguments. Quoting is not interpreted. overrides are laid over base and
// win on key collision. Malformed commands are not rejected here; they fail
// at launch.
func BuildInvocation(command, arguments string, overrides map[string]string, dir string, base []string) Invocation {
	line := command
	if arguments != "" {
		line += " " + arguments
	}
	inv := Invocation{
		Dir:   dir,
		Env:   env.Overlay(base, overrides),
		Shell: true,
	}
	fields := strings.Fields(line)
	if len(fields) > 0 {
		inv.Program = fields[0]
		inv.Args = fields[1:]
	}
	return inv
}
