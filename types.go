package epubflat

import "strings"

// NavKind identifies the format of a navigation document.
type NavKind int

const (
	// NavNCX is an ePub 2 NCX document (application/x-dtbncx+xml).
	NavNCX NavKind = iota + 1
	// NavXHTML is an ePub 3 XHTML navigation document (manifest property "nav").
	NavXHTML
)

// PackageManifest holds the resolved locations found through container.xml
// and the package document. All paths are absolute filesystem paths.
type PackageManifest struct {
	// Root is the extraction root directory.
	Root string

	// PackagePath is the package document (.opf) path.
	PackagePath string

	// PackageDir is the directory containing the package document. Manifest
	// hrefs are resolved against it.
	PackageDir string

	// NavPath is the navigation document path. Empty if none was found.
	NavPath string

	// NavKind is the format of NavPath.
	NavKind NavKind

	// Stylesheets lists stylesheet paths in manifest order. Empty if none.
	Stylesheets []string

	// Title is the first dc:title of the package, if present.
	Title string
}

// HasNavigation reports whether a navigation document was located.
func (m *PackageManifest) HasNavigation() bool {
	return m.NavPath != ""
}

// NavNode is a single entry of the navigation tree.
type NavNode struct {
	// Label is the display text of the entry, trimmed.
	Label string

	// Src is the source reference as written in the navigation document,
	// possibly carrying a "#fragment" suffix (e.g., "chapter01.xhtml#section2").
	Src string

	// Children contains nested entries under this node.
	Children []NavNode
}

// WalkResult holds the two synchronized outputs of a navigation walk.
type WalkResult struct {
	// Menu is the nested list-of-links markup.
	Menu string

	// Fragments is the content stream: anchor markers and normalized
	// content blocks in first-encounter order.
	Fragments []string

	// Entries is the number of menu entries emitted.
	Entries int

	// Blocks is the number of normalized content blocks (one per distinct
	// base document).
	Blocks int
}

// Content returns the concatenated content stream.
func (r *WalkResult) Content() string {
	return strings.Join(r.Fragments, "")
}

// Result is the outcome of a successful conversion.
type Result struct {
	// HTML is the rendered and link-processed document.
	HTML string

	// Root is the published extraction directory (outputRoot/<archive-name>).
	Root string

	// IndexPath is the written index.html inside Root.
	IndexPath string

	// Entries is the number of menu entries.
	Entries int

	// Blocks is the number of distinct content documents rendered.
	Blocks int
}
