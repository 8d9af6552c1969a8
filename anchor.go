package epubflat

import "encoding/base64"

// AnchorTag derives the in-page anchor identifier for a source reference that
// carries no fragment. The result is the unpadded URL-safe base64 encoding of
// ref: deterministic, reversible and free of '=' padding.
//
// The tag is stable only for the exact input string; it is not meant as a
// persistent identifier across conversions.
func AnchorTag(ref string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(ref))
}

// anchorMarker returns the empty block that marks the jump target for tag in
// the content stream.
func anchorMarker(tag string) string {
	return `<div id="` + tag + `"></div>`
}
