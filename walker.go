package epubflat

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// DefaultMaxNavDepth is the nesting depth beyond which Walk gives up.
const DefaultMaxNavDepth = 64

// menuOpen is the opening tag of the top-level menu list.
const menuOpen = `<ul class="nav nav-sidebar">`

// WalkOptions configures Walk.
type WalkOptions struct {
	// MaxDepth limits navigation nesting. Zero or negative means DefaultMaxNavDepth.
	MaxDepth int
}

// ContentLoader returns the normalized content block for a base document key
// (a source reference with its fragment removed).
type ContentLoader func(baseKey string) (string, error)

// walker carries the state owned by a single traversal.
type walker struct {
	load     ContentLoader
	maxDepth int

	menu      strings.Builder
	fragments []string
	visited   map[string]bool
	anchored  map[string]bool
	blockAt   map[string]int // index of each base document's block in fragments
	entries   int
	blocks    int
}

// Walk traverses nodes depth-first and produces the menu and the
// deduplicated content stream. Each distinct base document is loaded exactly
// once, on first encounter, and a parent's content precedes its children's.
//
// A reference without a fragment links to a synthesized anchor (AnchorTag)
// whose marker is placed in the content stream right before the document's
// block. A reference with a fragment links to that fragment alone.
func Walk(nodes []NavNode, load ContentLoader, opts WalkOptions) (*WalkResult, error) {
	w := &walker{
		load:     load,
		maxDepth: opts.MaxDepth,
		visited:  make(map[string]bool),
		anchored: make(map[string]bool),
		blockAt:  make(map[string]int),
	}
	if w.maxDepth <= 0 {
		w.maxDepth = DefaultMaxNavDepth
	}

	w.menu.WriteString(menuOpen)
	w.menu.WriteByte('\n')
	if err := w.walkNodes(nodes, 1); err != nil {
		return nil, err
	}
	w.menu.WriteString("</ul>")

	return &WalkResult{
		Menu:      w.menu.String(),
		Fragments: w.fragments,
		Entries:   w.entries,
		Blocks:    w.blocks,
	}, nil
}

func (w *walker) walkNodes(nodes []NavNode, depth int) error {
	if depth > w.maxDepth {
		return newError(KindMalformedNavigation, nodes[0].Src,
			fmt.Errorf("%w: depth %d exceeds %d", ErrNavigationTooDeep, depth, w.maxDepth))
	}
	for i := range nodes {
		if err := w.visit(&nodes[i], depth); err != nil {
			return err
		}
	}
	return nil
}

func (w *walker) visit(n *NavNode, depth int) error {
	label := strings.TrimSpace(n.Label)
	src := strings.TrimSpace(n.Src)
	if label == "" {
		return errorf(KindMalformedNavigation, src, "navigation entry has no label")
	}
	if src == "" {
		return errorf(KindMalformedNavigation, "", "navigation entry %q has no source reference", label)
	}

	baseKey := hrefWithoutFragment(src)
	target := fragment(src)
	if target == "" {
		tag := AnchorTag(src)
		target = "#" + tag
		if !w.anchored[tag] {
			w.anchored[tag] = true
			w.placeMarker(baseKey, anchorMarker(tag))
		}
	}

	w.menu.WriteString(`<li><a href="`)
	w.menu.WriteString(html.EscapeString(target))
	w.menu.WriteString(`">`)
	w.menu.WriteString(html.EscapeString(label))
	w.menu.WriteString(`</a>`)
	w.entries++

	// An in-document reference ("#sec") has no base document to render.
	if baseKey != "" && !w.visited[baseKey] {
		w.visited[baseKey] = true
		block, err := w.load(baseKey)
		if err != nil {
			var fe *Error
			if errors.As(err, &fe) {
				return err
			}
			return newError(KindMalformedContent, baseKey, err)
		}
		w.blockAt[baseKey] = len(w.fragments)
		w.fragments = append(w.fragments, block)
		w.blocks++
	}

	if len(n.Children) > 0 {
		w.menu.WriteString("\n<ul>\n")
		if err := w.walkNodes(n.Children, depth+1); err != nil {
			return err
		}
		w.menu.WriteString("</ul>\n")
	}
	w.menu.WriteString("</li>\n")
	return nil
}

// placeMarker puts marker immediately before the block of baseKey. A document
// not rendered yet gets its block appended right after the marker.
func (w *walker) placeMarker(baseKey, marker string) {
	at, ok := w.blockAt[baseKey]
	if !ok {
		w.fragments = append(w.fragments, marker)
		return
	}
	w.fragments = append(w.fragments, "")
	copy(w.fragments[at+1:], w.fragments[at:])
	w.fragments[at] = marker
	for key, i := range w.blockAt {
		if i >= at {
			w.blockAt[key] = i + 1
		}
	}
}
