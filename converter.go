package epubflat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// expectedMimetype is the required content of the "mimetype" file in a valid ePub.
const expectedMimetype = "application/epub+zip"

// IndexFile is the name of the rendered document written into each
// published directory.
const IndexFile = "index.html"

// Options configures a Converter.
type Options struct {
	// OutputRoot is the directory under which each archive is published as
	// OutputRoot/<archive-name>/.
	OutputRoot string

	// AssetBaseURL is the URL prefix under which OutputRoot is served
	// (e.g., "/static"). Image sources are rewritten to
	// AssetBaseURL/<archive-name>/<path>. Empty means relative to OutputRoot.
	AssetBaseURL string

	// Template is the page template. Nil means DefaultTemplate().
	Template *Template

	// MaxNavDepth limits navigation nesting. Zero means DefaultMaxNavDepth.
	MaxNavDepth int

	// MaxEntryBytes limits the decompressed size of a single archive entry.
	// Zero means DefaultMaxEntryBytes.
	MaxEntryBytes int64

	// Logger receives pipeline diagnostics. Nil disables logging.
	Logger *zap.Logger
}

// Converter flattens ePub archives into single HTML documents.
//
// A Converter is safe for concurrent use. Conversions that publish to the
// same directory are serialized; each run works in its own staging directory
// that becomes visible only once complete.
type Converter struct {
	opts   Options
	tmpl   *Template
	logger *zap.Logger
	locks  *keyLock
}

// NewConverter returns a Converter with defaults applied to opts.
func NewConverter(opts Options) *Converter {
	if opts.OutputRoot == "" {
		opts.OutputRoot = "."
	}
	if opts.MaxNavDepth <= 0 {
		opts.MaxNavDepth = DefaultMaxNavDepth
	}
	if opts.MaxEntryBytes <= 0 {
		opts.MaxEntryBytes = DefaultMaxEntryBytes
	}
	tmpl := opts.Template
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		opts:   opts,
		tmpl:   tmpl,
		logger: logger,
		locks:  newKeyLock(),
	}
}

// Convert runs the whole pipeline for the archive at archivePath: extract,
// resolve the package, walk the navigation, render the template, write
// index.html and post-process links. title is the display title; if empty,
// the package's dc:title or the archive name is used.
//
// On failure nothing is published and the returned error is an *Error
// carrying archivePath.
func (c *Converter) Convert(ctx context.Context, archivePath, title string) (*Result, error) {
	name := ArchiveName(archivePath)
	if name == "" || name == "." || strings.HasPrefix(name, ".") {
		return nil, withArchive(errorf(KindArchiveRead, "", "invalid archive name %q", name), archivePath)
	}

	outRoot, err := filepath.Abs(c.opts.OutputRoot)
	if err != nil {
		return nil, withArchive(newError(KindIO, c.opts.OutputRoot, err), archivePath)
	}
	if err := os.MkdirAll(outRoot, 0o755); err != nil {
		return nil, withArchive(newError(KindIO, outRoot, err), archivePath)
	}
	target := filepath.Join(outRoot, name)

	unlock, err := c.locks.lock(ctx, target)
	if err != nil {
		return nil, withArchive(newError(KindIO, target, err), archivePath)
	}
	defer unlock()

	staging := filepath.Join(outRoot, "."+name+"-"+uuid.NewString()+".staging")
	published := false
	defer func() {
		if !published {
			if err := os.RemoveAll(staging); err != nil {
				c.logger.Warn("remove staging directory", zap.String("path", staging), zap.Error(err))
			}
		}
	}()

	log := c.logger.With(zap.String("archive", archivePath), zap.String("target", target))

	doc, res, err := c.render(ctx, log, archivePath, staging, title)
	if err != nil {
		return nil, c.fail(err, archivePath, staging)
	}

	if err := os.WriteFile(filepath.Join(staging, IndexFile), []byte(doc), 0o644); err != nil {
		return nil, c.fail(newError(KindIO, IndexFile, err), archivePath, staging)
	}

	// Publish: the previous output is replaced as a whole.
	if err := os.RemoveAll(target); err != nil {
		return nil, c.fail(newError(KindIO, target, err), archivePath, staging)
	}
	if err := os.Rename(staging, target); err != nil {
		return nil, c.fail(newError(KindIO, target, err), archivePath, staging)
	}
	published = true
	log.Debug("published", zap.Int("entries", res.Entries), zap.Int("blocks", res.Blocks))

	out, err := PostProcessLinks(doc, c.assetPrefix(name))
	if err != nil {
		return nil, withArchive(err, archivePath)
	}

	res.HTML = out
	res.Root = target
	res.IndexPath = filepath.Join(target, IndexFile)
	return res, nil
}

// render extracts the archive into staging and returns the rendered,
// not yet link-processed document.
func (c *Converter) render(ctx context.Context, log *zap.Logger, archivePath, staging, title string) (string, *Result, error) {
	fontObfuscation, err := extractArchive(archivePath, staging, c.opts.MaxEntryBytes)
	if err != nil {
		return "", nil, err
	}
	if fontObfuscation {
		log.Warn("font obfuscation detected; obfuscated fonts may not render correctly")
	}
	c.validateMimetype(log, staging)
	log.Debug("extracted", zap.String("staging", staging))

	m, err := ResolvePackage(staging)
	if err != nil {
		return "", nil, err
	}
	if !m.HasNavigation() {
		return "", nil, errorf(KindMalformedNavigation, m.PackagePath, "package lists no navigation document")
	}
	log.Debug("resolved package",
		zap.String("package", relPath(staging, m.PackagePath)),
		zap.String("nav", relPath(staging, m.NavPath)),
		zap.Int("stylesheets", len(m.Stylesheets)),
	)

	nodes, err := ParseNavigation(m.NavPath, m.NavKind)
	if err != nil {
		return "", nil, err
	}

	navDir := filepath.Dir(m.NavPath)
	load := func(baseKey string) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", newError(KindIO, baseKey, err)
		}
		p := resolveHref(staging, navDir, baseKey)
		if p == "" {
			return "", errorf(KindMalformedContent, baseKey, "reference does not resolve inside the archive")
		}
		return NormalizeContent(staging, p)
	}

	wr, err := Walk(nodes, load, WalkOptions{MaxDepth: c.opts.MaxNavDepth})
	if err != nil {
		return "", nil, err
	}
	log.Debug("walked navigation", zap.Int("entries", wr.Entries), zap.Int("blocks", wr.Blocks))

	css, err := c.readStylesheets(log, staging, m.Stylesheets)
	if err != nil {
		return "", nil, err
	}

	if title == "" {
		title = m.Title
	}
	if title == "" {
		title = ArchiveName(archivePath)
	}

	doc := c.tmpl.Render(wr.Menu, title, wr.Content(), css)
	return doc, &Result{Entries: wr.Entries, Blocks: wr.Blocks}, nil
}

// readStylesheets reads every listed stylesheet in order. A stylesheet listed
// in the manifest but absent from the archive is skipped with a warning.
func (c *Converter) readStylesheets(log *zap.Logger, root string, paths []string) ([]string, error) {
	css := make([]string, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Warn("stylesheet listed but missing", zap.String("path", relPath(root, p)))
				continue
			}
			return nil, newError(KindIO, p, fmt.Errorf("read stylesheet: %w", err))
		}
		css = append(css, string(stripBOM(data)))
	}
	return css, nil
}

// validateMimetype logs a warning if the extracted mimetype file is missing
// or does not declare an ePub.
func (c *Converter) validateMimetype(log *zap.Logger, root string) {
	data, err := os.ReadFile(filepath.Join(root, "mimetype"))
	if err != nil {
		log.Warn("mimetype file missing")
		return
	}
	if got := string(bytes.TrimSpace(data)); got != expectedMimetype {
		log.Warn("unexpected mimetype", zap.String("mimetype", got))
	}
}

// assetPrefix returns the URL prefix for assets of the archive published as name.
func (c *Converter) assetPrefix(name string) string {
	base := strings.TrimRight(c.opts.AssetBaseURL, "/")
	if base == "" {
		return url.PathEscape(name)
	}
	return base + "/" + url.PathEscape(name)
}

// fail reports paths inside staging relative to it and stamps the archive.
func (c *Converter) fail(err error, archivePath, staging string) error {
	var fe *Error
	if errors.As(err, &fe) && filepath.IsAbs(fe.Path) {
		fe.Path = relPath(staging, fe.Path)
	}
	return withArchive(err, archivePath)
}
