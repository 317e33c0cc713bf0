package main

import (
	"flag"
	"strings"
)

// parseArgs runs fs over args with the leading positional split off first,
// so both `paude delete myname --confirm` and `paude delete --confirm
// myname` parse the same way. Returns the positional (session name),
// empty when none was given.
func parseArgs(fs *flag.FlagSet, args []string) (string, error) {
	positional := ""
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional = args[0]
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if positional == "" && fs.NArg() > 0 {
		positional = fs.Arg(0)
	}
	return positional, nil
}
