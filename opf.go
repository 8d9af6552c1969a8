package epubflat

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/antchfx/xmlquery"
)

// Standard media types of the manifest resources the flattener consumes.
const (
	mediaTypeNCX = "application/x-dtbncx+xml"
	mediaTypeCSS = "text/css"
)

// ResolvePackage locates the package document through container.xml under the
// extraction root and resolves the navigation document and stylesheets from
// its manifest. Paths are resolved against the package document's directory.
//
// A package without a navigation document is returned without error; see
// PackageManifest.HasNavigation.
func ResolvePackage(root string) (*PackageManifest, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, newError(KindIO, "", err)
	}

	rel, err := resolveContainer(root)
	if err != nil {
		return nil, err
	}
	if !isSafePath(rel) {
		return nil, errorf(KindMalformedDescriptor, containerPath, "unsafe package path: %s", rel)
	}

	pkgPath := findFileFold(root, rel)
	if pkgPath == "" {
		return nil, errorf(KindMalformedDescriptor, rel, "package document not found")
	}

	doc, err := loadXML(pkgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, newError(KindIO, rel, err)
		}
		return nil, newError(KindMalformedDescriptor, rel, err)
	}

	m := &PackageManifest{
		Root:        root,
		PackagePath: pkgPath,
		PackageDir:  filepath.Dir(pkgPath),
	}
	if t := xmlquery.QuerySelector(doc, exprTitle); t != nil {
		m.Title = strings.TrimSpace(t.InnerText())
	}

	if xmlquery.QuerySelector(doc, exprManifest) == nil {
		if err := detectByExtension(m); err != nil {
			return nil, newError(KindIO, rel, err)
		}
		return m, nil
	}

	var navXHTML string
	for _, item := range xmlquery.QuerySelectorAll(doc, exprManifestItem) {
		p := resolveHref(root, m.PackageDir, attr(item, "href"))
		if p == "" {
			continue
		}
		mediaType := strings.ToLower(attr(item, "media-type"))
		switch {
		case mediaType == mediaTypeNCX:
			if m.NavPath == "" {
				m.NavPath = p
				m.NavKind = NavNCX
			}
		case mediaType == mediaTypeCSS:
			m.Stylesheets = append(m.Stylesheets, p)
		case hasProperty(attr(item, "properties"), "nav"):
			if navXHTML == "" {
				navXHTML = p
			}
		}
	}

	// ePub 3 without an NCX: fall back to the XHTML nav document.
	if m.NavPath == "" && navXHTML != "" {
		m.NavPath = navXHTML
		m.NavKind = NavXHTML
	}

	return m, nil
}

// detectByExtension fills in the navigation document and stylesheets by file
// extension, scanning the package directory in lexical order. It is used only
// when the package document has no manifest element.
func detectByExtension(m *PackageManifest) error {
	return filepath.WalkDir(m.PackageDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(p)) {
		case ".ncx":
			if m.NavPath == "" {
				m.NavPath = p
				m.NavKind = NavNCX
			}
		case ".css":
			m.Stylesheets = append(m.Stylesheets, p)
		}
		return nil
	})
}

// hasProperty reports whether the space-separated properties list contains prop.
func hasProperty(properties, prop string) bool {
	for _, p := range strings.Fields(properties) {
		if p == prop {
			return true
		}
	}
	return false
}
