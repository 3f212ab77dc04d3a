package paths

import (
	"fmt"
	"path"
	"strings"
)

// Root is the top of every session's virtual tree
const Root = "/"

// Marker is the reserved file name that keeps an otherwise empty directory alive
const Marker = ".keep"

// Normalize returns the canonical absolute form of a virtual path.
// ".." segments are resolved and clamped at the root.
func Normalize(p string) string {
	if p == "" {
		return Root
	}
	return path.Clean(Root + strings.TrimLeft(p, "/"))
}

// Resolve interprets arg relative to cwd the way the terminal does:
// "~" and empty mean the root, a leading "/" is absolute, anything else
// is joined to cwd.
func Resolve(cwd, arg string) string {
	switch {
	case arg == "" || arg == "~":
		return Root
	case strings.HasPrefix(arg, "~/"):
		return Normalize(arg[2:])
	case strings.HasPrefix(arg, "/"):
		return Normalize(arg)
	default:
		return Normalize(path.Join(Normalize(cwd), arg))
	}
}

// Join appends name to dir and normalizes the result
func Join(dir, name string) string {
	return Normalize(path.Join(Normalize(dir), name))
}

// Parent returns the directory containing p; the parent of the root is the root
func Parent(p string) string {
	return path.Dir(Normalize(p))
}

// Base returns the last element of p, or "/" for the root
func Base(p string) string {
	return path.Base(Normalize(p))
}

// Ext returns the lower-cased extension of p including the dot
func Ext(p string) string {
	return strings.ToLower(path.Ext(p))
}

// MarkerPath returns the marker file path for dir
func MarkerPath(dir string) string {
	return Join(dir, Marker)
}

// IsMarker reports whether p names a directory marker
func IsMarker(p string) bool {
	return Base(p) == Marker
}

// IsHidden reports whether a single path element is hidden
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// Prefix returns the string every descendant of dir starts with
func Prefix(dir string) string {
	dir = Normalize(dir)
	if dir == Root {
		return Root
	}
	return dir + "/"
}

// IsRoot reports whether p is the root
func IsRoot(p string) bool {
	return Normalize(p) == Root
}

// Within reports whether p equals dir or lies beneath it
func Within(p, dir string) bool {
	p, dir = Normalize(p), Normalize(dir)
	return p == dir || strings.HasPrefix(p, Prefix(dir))
}

// Relative strips the leading slash so p can be joined onto a host directory
func Relative(p string) string {
	return strings.TrimPrefix(Normalize(p), Root)
}

// ValidateName checks a single path element supplied by a client
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("name cannot be empty")
	case name == "." || name == "..":
		return fmt.Errorf("invalid name: %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("name cannot contain '/' or NUL: %q", name)
	case name == Marker:
		return fmt.Errorf("name is reserved: %q", name)
	}
	return nil
}
