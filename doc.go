// Package epubflat flattens ePub 2 and ePub 3 archives into a single
// self-contained HTML document with a generated table of contents.
//
// The pipeline runs in fixed stages: [Extract] unpacks the archive,
// [ResolvePackage] follows container.xml to the package document and finds
// the navigation document and stylesheets, [ParseNavigation] reads the
// navigation tree, [Walk] produces the menu and a deduplicated content stream
// (normalizing each distinct document once with [NormalizeContent]), a
// [Template] merges the pieces, and [PostProcessLinks] rewrites links and
// images for HTTP serving. DRM-protected archives are rejected with
// [ErrDRMProtected].
//
// # Converting an ePub
//
// [Converter] runs the whole pipeline and publishes the result under
// OutputRoot/<archive-name>/index.html:
//
//	c := epubflat.NewConverter(epubflat.Options{
//	    OutputRoot:   "static",
//	    AssetBaseURL: "/static",
//	})
//	res, err := c.Convert(ctx, "books/moby-dick.epub", "Moby Dick")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.IndexPath, res.Entries)
//
// Each run extracts into its own staging directory which replaces the
// published directory only after index.html is written, so concurrent or
// failed runs never expose partial output.
//
// # Content stream
//
// Every distinct base document (a source reference without its "#fragment")
// is rendered exactly once, in first-encounter depth-first order. A menu
// entry whose reference has no fragment links to "#" + [AnchorTag](ref), and
// an empty marker carrying that id precedes the document's block. A
// reference with a fragment links to the fragment alone.
//
// # Templates
//
// A template carries the tokens ${menu}$, ${title}$, ${content}$ and ${css}$,
// each exactly once. [DefaultTemplate] returns the built-in sidebar layout.
//
// # Error Handling
//
// A failed conversion returns an [*Error] carrying the archive and offending
// path. Its Kind matches one of the sentinels through errors.Is:
//   - [ErrArchiveRead] – the archive is unreadable or not a zip container
//   - [ErrMalformedDescriptor] – container.xml or the package document is broken
//   - [ErrMalformedNavigation] – the navigation document is missing or broken
//   - [ErrMalformedContent] – a referenced document is missing or has no body
//   - [ErrIO] – a filesystem operation failed
//
// A missing stylesheet is not an error; the style block is left empty.
package epubflat
