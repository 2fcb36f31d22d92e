package fs

import (
	"path"
	"strings"
)

// CleanPath normalizes a mount-rooted path: leading slash enforced, dot
// segments resolved, trailing slash stripped. The mount root is "/".
func CleanPath(p string) string {
	cleaned := path.Clean("/" + strings.TrimSpace(p))
	if cleaned == "" {
		return "/"
	}
	return cleaned
}

// ContainingDirectory maps a path to the directory whose listing it changes:
// directories (trailing slash) map to themselves, files to their parent.
func ContainingDirectory(p string) string {
	isDir := strings.HasSuffix(p, "/") && p != "/"
	cleaned := CleanPath(p)
	if isDir || cleaned == "/" {
		return cleaned
	}
	return parentDirectory(cleaned)
}

func parentDirectory(cleaned string) string {
	parent := path.Dir(cleaned)
	if parent == "" || parent == "." {
		return "/"
	}
	return parent
}

// CommonDirectoryPrefix returns the deepest directory that is a strict
// ancestor of every path. Segment-wise, so "/a/b.txt" and "/a/bc.txt" share
// "/a", not "/a/b". Falls back to "/".
func CommonDirectoryPrefix(paths []string) string {
	if len(paths) == 0 {
		return "/"
	}

	common := splitSegments(CleanPath(paths[0]))
	for _, p := range paths[1:] {
		segments := splitSegments(CleanPath(p))
		if len(segments) < len(common) {
			common = common[:len(segments)]
		}
		for i := range common {
			if common[i] != segments[i] {
				common = common[:i]
				break
			}
		}
		if len(common) == 0 {
			return "/"
		}
	}

	prefix := "/" + strings.Join(common, "/")

	// The prefix must be an ancestor, never one of the paths themselves:
	// a path equal to the prefix could be a file.
	for _, p := range paths {
		if CleanPath(p) == prefix {
			return parentDirectory(prefix)
		}
	}
	return prefix
}

func splitSegments(cleaned string) []string {
	if cleaned == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(cleaned, "/"), "/")
}
