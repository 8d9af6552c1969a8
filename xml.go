package epubflat

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Compiled queries. Every step matches on local-name() so documents resolve
// identically with or without a default namespace or prefixes.
var (
	exprRootfile     = xpath.MustCompile(`//*[local-name()='rootfiles']/*[local-name()='rootfile']`)
	exprManifest     = xpath.MustCompile(`//*[local-name()='manifest']`)
	exprManifestItem = xpath.MustCompile(`//*[local-name()='manifest']/*[local-name()='item']`)
	exprTitle        = xpath.MustCompile(`//*[local-name()='metadata']/*[local-name()='title']`)
	exprNavMapPoints = xpath.MustCompile(`//*[local-name()='navMap']/*[local-name()='navPoint']`)
	exprNavPoints    = xpath.MustCompile(`*[local-name()='navPoint']`)
	exprNavLabelText = xpath.MustCompile(`*[local-name()='navLabel']/*[local-name()='text']`)
	exprNavContent   = xpath.MustCompile(`*[local-name()='content']`)
	exprEncrypted    = xpath.MustCompile(`//*[local-name()='EncryptedData']`)
	exprEncMethod    = xpath.MustCompile(`*[local-name()='EncryptionMethod']`)
	exprKeyInfo      = xpath.MustCompile(`*[local-name()='KeyInfo']`)
)

// entityNameToNumeric maps lowercase HTML entity names to their XML numeric
// character references. XML parsers do not recognise HTML named entities,
// so we convert them before parsing OPF/NCX files.
var entityNameToNumeric = map[string][]byte{
	"nbsp":   []byte("&#160;"),
	"mdash":  []byte("&#8212;"),
	"ndash":  []byte("&#8211;"),
	"hellip": []byte("&#8230;"),
	"lsquo":  []byte("&#8216;"),
	"rsquo":  []byte("&#8217;"),
	"ldquo":  []byte("&#8220;"),
	"rdquo":  []byte("&#8221;"),
	"copy":   []byte("&#169;"),
	"reg":    []byte("&#174;"),
	"trade":  []byte("&#8482;"),
	"bull":   []byte("&#8226;"),
	"middot": []byte("&#183;"),
	"eacute": []byte("&#233;"),
	"egrave": []byte("&#232;"),
	"ecirc":  []byte("&#234;"),
	"euml":   []byte("&#235;"),
	"aacute": []byte("&#225;"),
	"agrave": []byte("&#224;"),
	"acirc":  []byte("&#226;"),
	"auml":   []byte("&#228;"),
	"iacute": []byte("&#237;"),
	"igrave": []byte("&#236;"),
	"icirc":  []byte("&#238;"),
	"iuml":   []byte("&#239;"),
	"oacute": []byte("&#243;"),
	"ograve": []byte("&#242;"),
	"ocirc":  []byte("&#244;"),
	"ouml":   []byte("&#246;"),
	"uacute": []byte("&#250;"),
	"ugrave": []byte("&#249;"),
	"ucirc":  []byte("&#251;"),
	"uuml":   []byte("&#252;"),
	"ntilde": []byte("&#241;"),
	"ccedil": []byte("&#231;"),
	"times":  []byte("&#215;"),
	"divide": []byte("&#247;"),
	"deg":    []byte("&#176;"),
	"para":   []byte("&#182;"),
	"sect":   []byte("&#167;"),
	"laquo":  []byte("&#171;"),
	"raquo":  []byte("&#187;"),
	"iexcl":  []byte("&#161;"),
	"iquest": []byte("&#191;"),
}

// htmlEntityPattern matches common HTML named entities case-insensitively.
var htmlEntityPattern = regexp.MustCompile(
	`(?i)&(nbsp|mdash|ndash|hellip|lsquo|rsquo|ldquo|rdquo|copy|reg|trade|bull|middot|` +
		`eacute|egrave|ecirc|euml|aacute|agrave|acirc|auml|iacute|igrave|icirc|iuml|` +
		`oacute|ograve|ocirc|ouml|uacute|ugrave|ucirc|uuml|ntilde|ccedil|` +
		`times|divide|deg|para|sect|laquo|raquo|iexcl|iquest);`)

// preprocessHTMLEntities replaces common HTML named entities with their
// numeric character references so that the XML parser accepts the data.
func preprocessHTMLEntities(data []byte) []byte {
	return htmlEntityPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := strings.ToLower(string(match[1 : len(match)-1]))
		if replacement, ok := entityNameToNumeric[name]; ok {
			return replacement
		}
		return match
	})
}

// parseXML parses data into an xmlquery tree after BOM and entity cleanup.
func parseXML(data []byte) (*xmlquery.Node, error) {
	data = stripBOM(data)
	data = preprocessHTMLEntities(data)
	return xmlquery.Parse(bytes.NewReader(data))
}

// loadXML reads and parses the XML file at p.
func loadXML(p string) (*xmlquery.Node, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	doc, err := parseXML(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	return doc, nil
}

// attr returns the trimmed value of the attribute with the given local name.
func attr(n *xmlquery.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
