package server

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/simp-lee/epubflat"
)

const (
	testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`
	testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Served Book</dc:title></metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="ch1" href="text/ch1.html" media-type="application/xhtml+xml"/>
  </manifest>
</package>`
	testNCX = `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/" version="2005-1">
  <navMap>
    <navPoint id="p1"><navLabel><text>Opening</text></navLabel><content src="text/ch1.html"/></navPoint>
  </navMap>
</ncx>`
	testChapter = `<html><body><p>It was a dark night.</p><img src="../images/cover.png"/></body></html>`
)

// buildEPub returns the bytes of a minimal valid ePub.
func buildEPub(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", testContainer},
		{"OEBPS/content.opf", testOPF},
		{"OEBPS/toc.ncx", testNCX},
		{"OEBPS/text/ch1.html", testChapter + strings.Repeat("<!-- padding -->", 40)},
		{"OEBPS/images/cover.png", "PNG"},
	}
	for _, f := range files {
		fw, err := w.Create(f.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// upstream serves fixed bodies by path and counts requests.
type upstream struct {
	mu    sync.Mutex
	hits  int
	files map[string][]byte
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.hits++
	u.mu.Unlock()
	body, ok := u.files[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write(body)
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	upstream *httptest.Server
	outRoot  string
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()
	up := httptest.NewServer(&upstream{files: map[string][]byte{
		"/books/Dark Night.epub": buildEPub(t),
		"/books/broken.epub":     []byte("not a zip"),
	}})
	t.Cleanup(up.Close)

	outRoot := t.TempDir()
	logger := zaptest.NewLogger(t)
	opts := Options{
		Converter: epubflat.NewConverter(epubflat.Options{
			OutputRoot:   outRoot,
			AssetBaseURL: StaticPrefix,
			Logger:       logger,
		}),
		OutputRoot: outRoot,
		WorkDir:    t.TempDir(),
		Client:     up.Client(),
		Logger:     logger,
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := New(opts)
	return &fixture{srv: s, handler: s.Handler(), upstream: up, outRoot: outRoot}
}

func (f *fixture) get(t *testing.T, target string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) epubTarget(p string) string {
	return "/epub?url=" + url.QueryEscape(f.upstream.URL+p)
}

func TestRoot(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Hello, World!", body["message"])
}

func TestEpub_NotEpubURL(t *testing.T) {
	f := newFixture(t, nil)
	for _, target := range []string{
		"/epub",
		"/epub?url=" + url.QueryEscape("http://example.com/book.pdf"),
		"/epub?url=" + url.QueryEscape("file:///etc/book.epub"),
	} {
		rec := f.get(t, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Contains(t, rec.Body.String(), msgNotEpub, target)
	}
}

func TestEpub_Converts(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, f.epubTarget("/books/Dark Night.epub"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	token := archiveToken("Dark Night.epub")
	assert.Contains(t, body, "<title>Dark Night</title>")
	assert.Contains(t, body, "It was a dark night.")
	assert.Contains(t, body, `src="/static/`+token+`/OEBPS/images/cover.png"`)
	assert.Contains(t, body, `loading="lazy"`)

	assert.FileExists(t, filepath.Join(f.outRoot, token, epubflat.IndexFile))

	asset := f.get(t, "/static/"+token+"/OEBPS/images/cover.png")
	require.Equal(t, http.StatusOK, asset.Code)
	assert.Equal(t, "PNG", asset.Body.String())
}

func TestEpub_FilenameParameter(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, f.epubTarget("/books/Dark Night.epub")+"&filename="+url.QueryEscape("Renamed.epub"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "<title>Renamed</title>")
	assert.DirExists(t, filepath.Join(f.outRoot, archiveToken("Renamed.epub")))
}

func TestEpub_Gzip(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, f.epubTarget("/books/Dark Night.epub"), "Accept-Encoding", "gzip")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	plain, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(plain), "It was a dark night.")
}

func TestEpub_Errors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		mutate func(*Options)
		status int
	}{
		{"not a zip", "/books/broken.epub", nil, http.StatusUnprocessableEntity},
		{"upstream missing", "/books/missing.epub", nil, http.StatusBadGateway},
		{"too large", "/books/Dark Night.epub", func(o *Options) { o.MaxDownloadBytes = 10 }, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			rec := f.get(t, f.epubTarget(tt.path))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			entries, err := os.ReadDir(f.outRoot)
			require.NoError(t, err)
			assert.Empty(t, entries, "nothing should be published")
		})
	}
}

func TestEpub_ConcurrentRequests(t *testing.T) {
	f := newFixture(t, nil)
	target := f.epubTarget("/books/Dark Night.epub")

	var wg sync.WaitGroup
	codes := make([]int, 6)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = f.get(t, target).Code
		}(i)
	}
	wg.Wait()

	for i, code := range codes {
		assert.Equal(t, http.StatusOK, code, "request %d", i)
	}
	entries, err := os.ReadDir(f.outRoot)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the published directory should remain")
	assert.Equal(t, archiveToken("Dark Night.epub"), entries[0].Name())
}

func TestEpub_ImageOptimizer(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	f := newFixture(t, func(o *Options) {
		o.ImageOptimizer = []string{"sh", "-c", `touch "$0/optimized"`}
	})
	rec := f.get(t, f.epubTarget("/books/Dark Night.epub"))
	require.Equal(t, http.StatusOK, rec.Code)

	f.srv.Wait()
	assert.FileExists(t, filepath.Join(f.outRoot, archiveToken("Dark Night.epub"), "optimized"))
}

func TestEpub_ImageOptimizerFailureIsIgnored(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.ImageOptimizer = []string{filepath.Join(t.TempDir(), "no-such-optimizer")}
	})
	rec := f.get(t, f.epubTarget("/books/Dark Night.epub"))
	f.srv.Wait()
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/epub", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&epubflat.Error{Kind: epubflat.KindIO}, http.StatusInternalServerError},
		{&epubflat.Error{Kind: epubflat.KindMalformedNavigation}, http.StatusUnprocessableEntity},
		{&epubflat.Error{Kind: epubflat.KindArchiveRead}, http.StatusUnprocessableEntity},
		{fmt.Errorf("wrap: %w", errDownloadTooLarge), http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: 404 Not Found", errDownloadStatus), http.StatusBadGateway},
		{io.ErrUnexpectedEOF, http.StatusBadGateway},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestIsEpubURL(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"https://example.com/a/book.epub", true},
		{"http://example.com/get?id=1&filename=Book.EPUB", true},
		{"https://example.com/book.pdf", false},
		{"/local/book.epub", false},
		{"ftp://example.com/book.epub", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isEpubURL(tt.in), tt.in)
	}
}

func TestArchiveFilename(t *testing.T) {
	assert.Equal(t, "given.epub", archiveFilename("https://x/a.epub", "given.epub"))
	assert.Equal(t, "Query.epub", archiveFilename("https://x/get?filename=Query.epub", ""))
	assert.Equal(t, "My Book.epub", archiveFilename("https://x/files/My%20Book.epub", ""))
}

func TestArchiveToken(t *testing.T) {
	a := archiveToken("book.epub")
	assert.Len(t, a, 32)
	assert.Equal(t, a, archiveToken("book.epub"))
	assert.NotEqual(t, a, archiveToken("other.epub"))
}
