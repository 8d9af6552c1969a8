package epubflat

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// NormalizeContent reads the content document at docPath and returns its body
// as an embeddable <div> block. Every src attribute (and SVG image href) is
// rebased from the document's own directory to root, so the block resolves
// from a file placed at root. Script elements and on* event attributes are
// removed.
//
// A document that cannot be read or parsed, or that has no body, yields a
// Malformed-Content error.
func NormalizeContent(root, docPath string) (string, error) {
	rel := relPath(root, docPath)

	data, err := os.ReadFile(docPath)
	if err != nil {
		return "", newError(KindMalformedContent, rel, fmt.Errorf("read content document: %w", err))
	}
	data = normalizeSelfClosingSkipTags(stripBOM(data))
	if !hasBodyTag(data) {
		return "", errorf(KindMalformedContent, rel, "content document has no body")
	}

	r, err := charset.NewReader(bytes.NewReader(data), contentTypeFor(docPath))
	if err != nil {
		return "", newError(KindMalformedContent, rel, fmt.Errorf("decode content document: %w", err))
	}
	doc, err := html.Parse(r)
	if err != nil {
		return "", newError(KindMalformedContent, rel, fmt.Errorf("parse content document: %w", err))
	}

	body := findElement(doc, atom.Body)
	if body == nil {
		return "", errorf(KindMalformedContent, rel, "content document has no body")
	}

	// Bodies are concatenated into one document, so each becomes a div.
	body.Data = "div"
	body.DataAtom = atom.Div

	cleanNode(body)
	rebaseNode(body, root, filepath.Dir(docPath))

	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return "", newError(KindIO, rel, fmt.Errorf("render content block: %w", err))
	}
	return buf.String(), nil
}

// contentTypeFor returns the declared content type used for charset
// detection, based on the file extension.
func contentTypeFor(p string) string {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".xhtml", ".xht", ".xml":
		return "application/xhtml+xml"
	default:
		return "text/html"
	}
}

// hasBodyTag reports whether data contains a <body> start tag. html.Parse
// synthesizes a body for any input, so the tokenizer is consulted instead.
func hasBodyTag(data []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(data))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) == atom.Body {
				return true
			}
		}
	}
}

var selfClosingSkipTagPattern = regexp.MustCompile(`(?is)<(script|style)\b([^>]*)/>`)

// normalizeSelfClosingSkipTags expands XHTML-style <script/> and <style/>,
// which the HTML parser would otherwise treat as unterminated raw-text
// elements swallowing the rest of the document.
func normalizeSelfClosingSkipTags(htmlData []byte) []byte {
	if !selfClosingSkipTagPattern.Match(htmlData) {
		return htmlData
	}
	return selfClosingSkipTagPattern.ReplaceAll(htmlData, []byte(`<$1$2></$1>`))
}

// findElement performs a depth-first search for a node with the given atom tag.
func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if result := findElement(c, a); result != nil {
			return result
		}
	}
	return nil
}

// cleanNode recursively removes <script> elements and strips event handler
// attributes from the subtree rooted at n.
func cleanNode(n *html.Node) {
	if n.Type == html.ElementNode {
		stripEventAttributes(n)
	}
	var next *html.Node
	for c := n.FirstChild; c != nil; c = next {
		next = c.NextSibling
		if c.Type == html.ElementNode && c.DataAtom == atom.Script {
			n.RemoveChild(c)
			continue
		}
		cleanNode(c)
	}
}

// stripEventAttributes removes all event handler attributes (on*) and unsafe
// URI values from the node.
func stripEventAttributes(n *html.Node) {
	cleaned := n.Attr[:0]
	for _, attr := range n.Attr {
		keyLower := strings.ToLower(attr.Key)
		if strings.HasPrefix(keyLower, "on") {
			continue
		}
		if isURIAttribute(attr) && !isSafeURI(attr.Val) {
			continue
		}
		cleaned = append(cleaned, attr)
	}
	n.Attr = cleaned
}

// isURIAttribute reports whether attr is an HTML attribute that may contain
// a URL and should be protocol-sanitized.
func isURIAttribute(attr html.Attribute) bool {
	switch {
	case attr.Key == "href" || attr.Key == "src":
		return true
	case attr.Namespace == "xlink" && attr.Key == "href":
		return true
	case attr.Key == "xlink:href":
		return true
	}
	return false
}

// isSafeURI validates URI values for href/src-like attributes.
// Allowed values:
//   - relative paths and fragments
//   - schemes: http, https, mailto
//   - data:image/*
func isSafeURI(raw string) bool {
	v := strings.TrimSpace(raw)
	if v == "" {
		return true
	}
	if strings.HasPrefix(v, "#") || strings.HasPrefix(v, "/") || strings.HasPrefix(v, "./") || strings.HasPrefix(v, "../") || strings.HasPrefix(v, "?") {
		return true
	}

	u, err := url.Parse(v)
	if err != nil {
		return false
	}
	if u.Scheme == "" {
		return true
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https", "mailto":
		return true
	case "data":
		return strings.HasPrefix(strings.ToLower(v), "data:image/")
	default:
		return false
	}
}

// rebaseNode walks the DOM tree and rewrites every src attribute, and the
// href of SVG <image> elements, from docDir-relative to root-relative.
func rebaseNode(n *html.Node, root, docDir string) {
	if n.Type == html.ElementNode {
		for i, a := range n.Attr {
			if matchAttr(a, "", "src") ||
				(n.DataAtom == atom.Image && (matchAttr(a, "xlink", "href") || matchAttr(a, "", "href"))) {
				n.Attr[i].Val = rebase(root, docDir, a.Val)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		rebaseNode(c, root, docDir)
	}
}

// rebase expresses ref, relative to docDir, as a slash-separated path
// relative to root. Empty, absolute, fragment-only and scheme'd references
// are returned unchanged.
func rebase(root, docDir, ref string) string {
	v := strings.TrimSpace(ref)
	if v == "" || strings.HasPrefix(v, "#") || strings.HasPrefix(v, "/") || hasURIScheme(v) {
		return ref
	}
	rel, err := filepath.Rel(root, filepath.Join(docDir, filepath.FromSlash(path.Clean(v))))
	if err != nil {
		return ref
	}
	return filepath.ToSlash(rel)
}

// relPath returns p relative to root for error reporting, or p itself.
func relPath(root, p string) string {
	if rel, err := filepath.Rel(root, p); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return p
}

// matchAttr checks if an html.Attribute matches the given namespace and key.
func matchAttr(attr html.Attribute, namespace, key string) bool {
	if namespace == "" {
		return attr.Key == key && attr.Namespace == ""
	}
	// For namespaced attributes, x/net/html may store them in different ways.
	// Check both namespace field and prefixed key.
	if attr.Namespace == namespace && attr.Key == key {
		return true
	}
	return attr.Key == namespace+":"+key
}
