package cmd

import (
	"fmt"
	"strings"
)

var legacyOps = map[string]string{
	"parse_luts": "parse-luts",
	"list_parts": "parts",
	"lutmap":     "lutmap",
	"faultload":  "faultload",
	"frames":     "frames",
}

// translateLegacyArgs rewrites "op=<name> key=value ..." into the
// subcommand form. Any other argument list is returned unchanged.
func translateLegacyArgs(args []string) ([]string, error) {
	op := ""
	for _, a := range args {
		if v, ok := strings.CutPrefix(a, "op="); ok {
			op = strings.ToLower(strings.TrimSpace(v))
			break
		}
	}
	if op == "" {
		return args, nil
	}
	sub, ok := legacyOps[op]
	if !ok {
		return nil, fmt.Errorf("unsupported operation %q", op)
	}
	out := []string{sub}
	for _, a := range args {
		if strings.HasPrefix(a, "op=") {
			continue
		}
		key, value, ok := strings.Cut(a, "=")
		if !ok || strings.HasPrefix(a, "-") {
			return nil, fmt.Errorf("legacy argument %q: want key=value", a)
		}
		key = strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "-")
		out = append(out, fmt.Sprintf("--%s=%s", key, strings.TrimSpace(value)))
	}
	return out, nil
}
