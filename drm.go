package epubflat

import (
	"archive/zip"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

// encryptionFilePath is the standard path for the encryption descriptor.
const encryptionFilePath = "META-INF/encryption.xml"

// sinfFilePath is the path that indicates Apple FairPlay DRM.
const sinfFilePath = "META-INF/sinf.xml"

// Font obfuscation algorithm URIs – these do NOT constitute DRM.
var fontObfuscationAlgorithms = map[string]bool{
	"http://www.idpf.org/2008/embedding": true, // IDPF font obfuscation
	"http://ns.adobe.com/pdf/enc#RC":     true, // Adobe font obfuscation
}

// drmSignatures maps known DRM namespaces to the scheme name used in errors.
var drmSignatures = []struct {
	ns     string
	scheme string
}{
	{"http://ns.adobe.com/adept", "Adobe ADEPT"},
	{"http://readium.org/2014/01/lcp", "Readium LCP"},
}

// checkDRM inspects META-INF/encryption.xml (if present) before anything is
// written to disk.
//
// Returns:
//   - (false, nil)             – no encryption.xml found or it's empty
//   - (true,  nil)             – only font obfuscation entries detected
//   - (false, ErrDRMProtected) – real DRM encryption detected
func checkDRM(zr *zip.Reader) (fontObfuscation bool, err error) {
	if findFileInsensitive(zr, sinfFilePath) != nil {
		return false, fmt.Errorf("%w (Apple FairPlay)", ErrDRMProtected)
	}

	f := findFileInsensitive(zr, encryptionFilePath)
	if f == nil {
		return false, nil
	}

	data, err := readZipFile(f)
	if err != nil {
		return false, err
	}

	doc, err := parseXML(data)
	if err != nil {
		// Unparseable encryption data is treated as potential DRM.
		return false, fmt.Errorf("%w (unreadable encryption.xml)", ErrDRMProtected)
	}

	for _, ed := range xmlquery.QuerySelectorAll(doc, exprEncrypted) {
		algo := attr(xmlquery.QuerySelector(ed, exprEncMethod), "Algorithm")
		if fontObfuscationAlgorithms[algo] {
			fontObfuscation = true
			continue
		}
		// Any EncryptedData that is NOT font obfuscation is treated as DRM.
		signature := algo + " " + namespaces(xmlquery.QuerySelector(ed, exprKeyInfo))
		return false, fmt.Errorf("%w (%s)", ErrDRMProtected, drmScheme(signature))
	}

	return fontObfuscation, nil
}

// drmScheme names the DRM scheme found in s, or "unknown encryption".
func drmScheme(s string) string {
	for _, sig := range drmSignatures {
		if strings.Contains(s, sig.ns) {
			return sig.scheme
		}
	}
	return "unknown encryption"
}

// namespaces returns the namespace URIs used within n, space-separated.
func namespaces(n *xmlquery.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		if n.Type == xmlquery.ElementNode {
			sb.WriteString(n.NamespaceURI)
			sb.WriteByte(' ')
			for _, a := range n.Attr {
				sb.WriteString(a.Value)
				sb.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
