package epubflat

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/antchfx/xmlquery"
)

// containerPath is the well-known location of container.xml in an ePub archive.
const containerPath = "META-INF/container.xml"

// mediaTypePackage is the media type of the package document rootfile.
const mediaTypePackage = "application/oebps-package+xml"

// resolveContainer reads META-INF/container.xml below root and returns the
// root-relative full-path of the package document.
//
// The rootfile whose media-type is the package media type wins even when it
// is not listed first, so a multi-rendition container whose first entry is
// some other rendition still resolves to the package document. Without such
// an entry the first rootfile with a non-empty full-path is used.
func resolveContainer(root string) (string, error) {
	p := findFileFold(root, containerPath)
	if p == "" {
		return "", errorf(KindMalformedDescriptor, containerPath, "container.xml not found")
	}

	doc, err := loadXML(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return "", newError(KindIO, containerPath, err)
		}
		return "", newError(KindMalformedDescriptor, containerPath, err)
	}

	rootfiles := xmlquery.QuerySelectorAll(doc, exprRootfile)
	if len(rootfiles) == 0 {
		return "", errorf(KindMalformedDescriptor, containerPath, "container.xml has no rootfile entries")
	}

	var fallbackPath string
	for _, rf := range rootfiles {
		fullPath := attr(rf, "full-path")
		if fullPath == "" {
			continue
		}
		if strings.EqualFold(attr(rf, "media-type"), mediaTypePackage) {
			return fullPath, nil
		}
		if fallbackPath == "" {
			fallbackPath = fullPath
		}
	}

	if fallbackPath == "" {
		return "", errorf(KindMalformedDescriptor, containerPath, "container.xml rootfile has empty full-path")
	}
	return fallbackPath, nil
}
