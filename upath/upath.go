// Package upath implements the immutable path value used throughout the
// file-system core and its canonicalization. Grounded on biscuit's ustr
// package (src/ustr/ustr.go) for the value type and on the path-walking
// style of bpath (referenced but not sampled in the pack; canonicalize
// follows the same "split on '/', drop '.', collapse '..'" idiom every
// Unix-like path resolver in the pack uses).
package upath

import "strings"

/// Path is an immutable slash-separated path.
type Path string

/// Root is the path naming the file-system root.
const Root Path = "/"

/// Dot names the current directory.
const Dot = "."

/// DotDot names the parent directory.
const DotDot = ".."

/// IsAbsolute reports whether p begins with '/'.
func (p Path) IsAbsolute() bool {
	return len(p) > 0 && p[0] == '/'
}

/// IsDot reports whether p is exactly ".".
func (p Path) IsDot() bool { return p == Dot }

/// IsDotDot reports whether p is exactly "..".
func (p Path) IsDotDot() bool { return p == DotDot }

/// Extend appends a path component, inserting the separating slash.
func (p Path) Extend(comp Path) Path {
	if p == "" {
		return comp
	}
	return Path(strings.TrimRight(string(p), "/") + "/" + string(comp))
}

/// Components splits p into its non-empty slash-separated pieces.
func (p Path) Components() []string {
	parts := strings.Split(string(p), "/")
	out := make([]string, 0, len(parts))
	for _, c := range parts {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

/// Base returns the final path component.
func (p Path) Base() string {
	c := p.Components()
	if len(c) == 0 {
		return "/"
	}
	return c[len(c)-1]
}

/// Dir returns all but the final path component, always absolute.
func (p Path) Dir() Path {
	c := p.Components()
	if len(c) <= 1 {
		return Root
	}
	return Root.joinAll(c[:len(c)-1])
}

func (p Path) joinAll(comps []string) Path {
	return Path("/" + strings.Join(comps, "/"))
}

/// Canonicalize resolves "." and ".." components lexically (without
/// touching the disk -- symlink expansion happens one component at a
/// time during directory resolution, see dir.Resolve) and returns an
/// absolute, slash-normalized path.
func Canonicalize(p Path) Path {
	comps := p.Components()
	out := make([]string, 0, len(comps))
	for _, c := range comps {
		switch c {
		case ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return Root
	}
	return Root.joinAll(out)
}

/// FromNulTerminated truncates buf at the first NUL byte, as user-space
/// C strings are received from a copy-in.
func FromNulTerminated(buf []byte) Path {
	for i, b := range buf {
		if b == 0 {
			return Path(buf[:i])
		}
	}
	return Path(buf)
}
