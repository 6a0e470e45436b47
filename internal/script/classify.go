// Package script decides how a validation script reference should be run:
// which runtime interprets it, and whether it is inline code or a file.
package script

import (
	"fmt"
	"strings"
)

// Runtime identifies a supported script interpreter.
type Runtime string

const (
	RuntimeNone       Runtime = ""
	RuntimePython     Runtime = "python"
	RuntimeJavaScript Runtime = "javascript"
)

// Script is a classified validation script reference.
type Script struct {
	Runtime Runtime
	// Code is the inline source for inline scripts, or the file reference
	// (still workspace-relative, unresolved) for file-based ones.
	Code   string
	Inline bool
}

// inlinePrefixes maps reference prefixes to runtimes. Order matters only for
// documentation; prefixes are disjoint.
var inlinePrefixes = []struct {
	prefix  string
	runtime Runtime
}{
	{"python:", RuntimePython},
	{"javascript:", RuntimeJavaScript},
	{"js:", RuntimeJavaScript},
}

// Classify inspects ref and returns its runtime and inline-ness.
//
// Detection order: unsupported extensions are rejected first, then file
// extensions, then inline prefixes, then the declared runtime as a fallback.
// Extension and prefix detection deliberately outrank a declared runtime, so
// a ".py" file is python even when javascript was declared.
func Classify(ref string, declared Runtime) (Script, error) {
	trimmed := strings.TrimSpace(ref)
	if trimmed == "" {
		return Script{}, fmt.Errorf("empty script reference")
	}

	lower := strings.ToLower(trimmed)

	// 1. Explicitly unsupported extensions. These fail loudly instead of
	// being coerced into a supported runtime.
	switch {
	case strings.HasSuffix(lower, ".sh"), strings.HasSuffix(lower, ".bash"):
		return Script{}, fmt.Errorf("shell scripts are not supported; use a python (.py) or javascript (.js) script")
	case strings.HasSuffix(lower, ".ts"):
		return Script{}, fmt.Errorf("typescript is not supported; use a javascript (.js) script")
	}

	// 2. File extensions.
	switch {
	case strings.HasSuffix(lower, ".py"):
		return Script{Runtime: RuntimePython, Code: trimmed}, nil
	case strings.HasSuffix(lower, ".js"):
		return Script{Runtime: RuntimeJavaScript, Code: trimmed}, nil
	}

	// 3. Inline prefixes.
	for _, p := range inlinePrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			code := strings.TrimSpace(trimmed[len(p.prefix):])
			if code == "" {
				return Script{}, fmt.Errorf("empty inline script")
			}
			return Script{Runtime: p.runtime, Code: code, Inline: true}, nil
		}
	}

	// 4. Caller-declared runtime: treat the whole reference as inline code.
	if declared != RuntimeNone {
		return Script{Runtime: declared, Code: trimmed, Inline: true}, nil
	}

	return Script{}, fmt.Errorf("cannot determine script type for %q; use a .py/.js file, a python:/javascript: prefix, or declare a runtime", trimmed)
}

// ParseRuntime converts a user-supplied runtime name to a Runtime.
func ParseRuntime(s string) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return RuntimeNone, nil
	case "python", "py":
		return RuntimePython, nil
	case "javascript", "js", "node":
		return RuntimeJavaScript, nil
	default:
		return RuntimeNone, fmt.Errorf("unknown runtime %q (supported: python, javascript)", s)
	}
}
