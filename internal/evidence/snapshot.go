// Package evidence turns uploaded photos of a copy into a condition snapshot:
// the stored image URLs plus the labels the tagging service found in them.
package evidence

import (
	"context"
	"sort"
)

// Image is one uploaded photo.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Tagger extracts condition labels from an image reachable at a URL.
type Tagger interface {
	AnalyzeFromURL(ctx context.Context, imageURL string) ([]string, error)
}

// Snapshot is the condition of a copy captured at one point in the lifecycle.
type Snapshot struct {
	Tags   []string `json:"tags"`
	Images []string `json:"images"`

	container string
	objects   []string
}

// Empty reports whether the snapshot carries neither tags nor images.
func (s Snapshot) Empty() bool {
	return len(s.Tags) == 0 && len(s.Images) == 0
}

// Union merges string sets, keeping values exactly as received, sorted.
func Union(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, set := range sets {
		for _, v := range set {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
