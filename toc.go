package epubflat

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html"
)

// ParseNavigation reads the navigation document at p and returns its
// top-level entries as a tree of NavNode. Source references are returned as
// written, relative to the navigation document's directory.
//
// Every node must carry a non-empty label and source reference; otherwise a
// Malformed-Navigation error is returned.
func ParseNavigation(p string, kind NavKind) ([]NavNode, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, newError(KindMalformedNavigation, p, fmt.Errorf("read navigation document: %w", err))
	}

	var nodes []NavNode
	switch kind {
	case NavNCX:
		nodes, err = parseNCX(data)
	case NavXHTML:
		nodes, err = parseNavDocument(data)
	default:
		err = fmt.Errorf("unknown navigation kind %d", kind)
	}
	if err != nil {
		return nil, newError(KindMalformedNavigation, p, err)
	}
	if len(nodes) == 0 {
		return nil, errorf(KindMalformedNavigation, p, "navigation document has no entries")
	}
	return nodes, nil
}

// --- NCX (ePub 2) ---

// parseNCX parses NCX data into a tree of NavNode, rooted at navMap.
func parseNCX(data []byte) ([]NavNode, error) {
	doc, err := parseXML(data)
	if err != nil {
		return nil, fmt.Errorf("parse NCX: %w", err)
	}
	return convertNavPoints(xmlquery.QuerySelectorAll(doc, exprNavMapPoints))
}

// convertNavPoints recursively converts navPoint elements into NavNode entries.
func convertNavPoints(points []*xmlquery.Node) ([]NavNode, error) {
	if len(points) == 0 {
		return nil, nil
	}

	nodes := make([]NavNode, 0, len(points))
	for _, np := range points {
		node := NavNode{}

		if text := xmlquery.QuerySelector(np, exprNavLabelText); text != nil {
			node.Label = strings.TrimSpace(text.InnerText())
		}
		if node.Label == "" {
			return nil, fmt.Errorf("navPoint %q has no label", attr(np, "id"))
		}

		node.Src = attr(xmlquery.QuerySelector(np, exprNavContent), "src")
		if node.Src == "" {
			return nil, fmt.Errorf("navPoint %q (%s) has no content src", attr(np, "id"), node.Label)
		}

		children, err := convertNavPoints(xmlquery.QuerySelectorAll(np, exprNavPoints))
		if err != nil {
			return nil, err
		}
		node.Children = children

		nodes = append(nodes, node)
	}
	return nodes, nil
}

// --- Nav Document (ePub 3) ---

var errNoTOCNav = errors.New(`no <nav epub:type="toc"> element`)

// parseNavDocument parses an ePub 3 XHTML nav document and returns the
// entries of its toc nav.
func parseNavDocument(data []byte) ([]NavNode, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse nav document: %w", err)
	}

	nav := findTOCNav(doc)
	if nav == nil {
		return nil, errNoTOCNav
	}
	ol := findFirstChildElement(nav, "ol")
	if ol == nil {
		return nil, nil
	}
	return parseNavOL(ol)
}

// findTOCNav returns the first <nav> whose epub:type contains "toc".
func findTOCNav(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "nav" && hasEpubType(n, "toc") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findTOCNav(c); found != nil {
			return found
		}
	}
	return nil
}

// parseNavOL processes an <ol> element and returns its <li> children as NavNode entries.
func parseNavOL(ol *html.Node) ([]NavNode, error) {
	var nodes []NavNode
	for c := ol.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "li" {
			node, err := parseNavLI(c)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// parseNavLI processes a single <li>: its first <a> gives label and source
// reference, a nested <ol> gives children.
func parseNavLI(li *html.Node) (NavNode, error) {
	var node NavNode
	found := false

	for c := li.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.Data {
		case "a":
			if !found {
				found = true
				node.Src = strings.TrimSpace(navGetAttr(c, "href"))
				node.Label = strings.TrimSpace(nodeTextContent(c))
			}
		case "span":
			if node.Label == "" {
				node.Label = strings.TrimSpace(nodeTextContent(c))
			}
		case "ol":
			children, err := parseNavOL(c)
			if err != nil {
				return NavNode{}, err
			}
			node.Children = children
		}
	}

	if node.Label == "" {
		return NavNode{}, fmt.Errorf("nav entry has no label")
	}
	if node.Src == "" {
		return NavNode{}, fmt.Errorf("nav entry %q has no href", node.Label)
	}
	return node, nil
}

// hasEpubType checks whether n has an epub:type attribute containing the given token
// (space-separated token matching).
func hasEpubType(n *html.Node, typeName string) bool {
	val := navGetAttr(n, "epub:type")
	if val == "" {
		val = navGetAttr(n, "type")
	}
	for _, t := range strings.Fields(val) {
		if t == typeName {
			return true
		}
	}
	return false
}

// navGetAttr returns the value of the attribute with the given key on n.
func navGetAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// findFirstChildElement performs a depth-first search for the first descendant
// element with the given tag name.
func findFirstChildElement(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findFirstChildElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// nodeTextContent recursively collects all text content within a node.
func nodeTextContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(nodeTextContent(c))
	}
	return sb.String()
}
