package epubflat

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PostProcessLinks prepares a rendered document for HTTP serving:
//   - every <a href> is truncated to its fragment ("ch2.html#s1" → "#s1");
//     an href without '#' becomes empty
//   - every <img> gets loading="lazy"
//   - every relative <img src> is prefixed with assetPrefix, with ".."
//     segments removed
//   - every relative SVG <image> href or xlink:href is prefixed the same way
func PostProcessLinks(doc, assetPrefix string) (string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", newError(KindMalformedContent, "", err)
	}

	d.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("href", fragment(s.AttrOr("href", "")))
	})

	prefix := strings.TrimRight(assetPrefix, "/")
	d.Find("img").Each(func(_ int, s *goquery.Selection) {
		s.SetAttr("loading", "lazy")
		src, ok := s.Attr("src")
		if !ok || src == "" || hasURIScheme(src) {
			return
		}
		s.SetAttr("src", assetURL(prefix, src))
	})

	// The parser keeps xlink:href as Namespace "xlink", Key "href".
	d.Find("svg image").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for i, a := range n.Attr {
				if a.Key != "href" || a.Val == "" || strings.HasPrefix(a.Val, "#") || hasURIScheme(a.Val) {
					continue
				}
				n.Attr[i].Val = assetURL(prefix, a.Val)
			}
		}
	})

	out, err := d.Html()
	if err != nil {
		return "", newError(KindIO, "", err)
	}
	return out, nil
}

// assetURL joins prefix and src after dropping "..", "." and empty segments
// from src.
func assetURL(prefix, src string) string {
	parts := strings.Split(src, "/")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		kept = append(kept, p)
	}
	cleaned := strings.Join(kept, "/")
	if prefix == "" {
		return cleaned
	}
	return prefix + "/" + cleaned
}
