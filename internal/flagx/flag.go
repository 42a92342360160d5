// Package flagx holds small helpers for pre-parsing selected command-line
// flags before the main flag set is built.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs returns only the allowed flags (and their values) from args.
//
// Supported formats:
//  1. Flag and value as separate arguments:  -c conf.yaml
//  2. Flag and value combined with '=':      -config=conf.yaml
//
// A separate value is taken only when the next argument does not start with
// a dash. The result is never nil.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, f := range allowedFlags {
		allowed[f] = struct{}{}
	}

	filtered := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "-") && strings.Contains(arg, "=") {
			name := strings.SplitN(arg, "=", 2)[0]
			if _, ok := allowed[name]; ok {
				filtered = append(filtered, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; ok {
			filtered = append(filtered, arg)
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				filtered = append(filtered, args[i+1])
				i++
			}
		}
	}

	return filtered
}

// FileFlags extracts the config file path (-c / -config) and the dotenv
// path (-e / -env) from args. Other arguments are ignored, so the main flag
// set can still be parsed afterwards. Missing flags yield empty strings.
func FileFlags(args []string) (configPath, envPath string) {
	filtered := FilterArgs(args, []string{"-c", "-config", "-e", "-env"})

	fs := flag.NewFlagSet("files", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&configPath, "config", "", "Path to config file (JSON or YAML)")
	fs.StringVar(&configPath, "c", "", "Path to config file (short)")
	fs.StringVar(&envPath, "env", "", "Path to .env file")
	fs.StringVar(&envPath, "e", "", "Path to .env file (short)")
	_ = fs.Parse(filtered)

	return configPath, envPath
}
