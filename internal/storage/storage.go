// Package storage holds evidence images uploaded during borrow and return.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// BlobStore stores opaque objects grouped in containers and returns a URL
// for each stored object.
type BlobStore interface {
	Put(ctx context.Context, container, object string, data []byte) (string, error)
	Exists(ctx context.Context, container, object string) (bool, error)
	Delete(ctx context.Context, container, object string) error
	// URL returns the address an object is, or would be, stored at.
	URL(container, object string) string
}

const (
	minContainerLen = 3
	maxContainerLen = 63
)

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	invalidNameChar = regexp.MustCompile(`[^a-z0-9-]`)
	hyphenRun       = regexp.MustCompile(`-+`)
	objectSeparator = regexp.MustCompile(`[/\\]+`)
)

// SanitizeContainerName reduces name to lowercase letters, digits and single
// hyphens, between 3 and 63 characters long.
func SanitizeContainerName(name string) string {
	return pad(truncate(clean(name), maxContainerLen))
}

// ContainerName builds a container name from a readable label followed by
// unique parts. Only the label is shortened to fit, so the unique parts
// always survive.
func ContainerName(label string, unique ...string) string {
	suffix := truncate(clean(strings.Join(unique, "-")), maxContainerLen)
	budget := maxContainerLen - len(suffix) - 1
	prefix := ""
	if budget > 0 {
		prefix = truncate(clean(label), budget)
	}
	switch {
	case suffix == "":
		return pad(prefix)
	case prefix == "":
		return pad(suffix)
	default:
		return prefix + "-" + suffix
	}
}

func clean(name string) string {
	s := strings.ToLower(name)
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = invalidNameChar.ReplaceAllString(s, "")
	s = hyphenRun.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

func truncate(s string, n int) string {
	if len(s) > n {
		s = strings.TrimRight(s[:n], "-")
	}
	return s
}

func pad(s string) string {
	for len(s) < minContainerLen {
		s += "0"
	}
	return s
}

// SanitizeObjectName lowercases an uploaded file name and replaces
// whitespace and path separators with hyphens.
func SanitizeObjectName(name string) string {
	s := strings.TrimSpace(name)
	s = objectSeparator.ReplaceAllString(s, "-")
	s = whitespaceRun.ReplaceAllString(s, "-")
	s = strings.Trim(strings.ToLower(s), ".-")
	if s == "" {
		return fmt.Sprintf("unnamed-%d", time.Now().UnixMilli())
	}
	return s
}
