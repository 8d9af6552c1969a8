package cli

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simp-lee/epubflat"
)

var testBook = map[string]string{
	"mimetype": "application/epub+zip",
	"META-INF/container.xml": `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles><rootfile full-path="content.opf" media-type="application/oebps-package+xml"/></rootfiles>
</container>`,
	"content.opf": `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Package Title</dc:title></metadata>
  <manifest>
    <item id="ncx" href="toc.ncx" media-type="application/x-dtbncx+xml"/>
    <item id="c1" href="c1.html" media-type="application/xhtml+xml"/>
  </manifest>
</package>`,
	"toc.ncx": `<?xml version="1.0"?>
<ncx xmlns="http://www.daisy.org/z3986/2005/ncx/"><navMap>
  <navPoint id="n1"><navLabel><text>First</text></navLabel><content src="c1.html"/></navPoint>
</navMap></ncx>`,
	"c1.html":   `<html><body><p>Hello from the first chapter.</p><img src="img/a.png"/></body></html>`,
	"img/a.png": "PNG",
}

func writeBook(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, n := range []string{"mimetype", "META-INF/container.xml", "content.opf", "toc.ncx", "c1.html", "img/a.png"} {
		fw, err := w.Create(n)
		require.NoError(t, err)
		_, err = fw.Write([]byte(testBook[n]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0644))
	return p
}

// resetFlags restores every flag of cmd and its children to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with a private config file and returns stdout.
func execute(t *testing.T, configFile string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append([]string{"--config", configFile}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig writes a config publishing to outRoot and returns its path.
func writeConfig(t *testing.T, outRoot string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	content := "output_root: " + outRoot + "\nasset_base_url: /books\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

func TestRootCommand(t *testing.T) {
	assert.Equal(t, "epubflat", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"convert", "serve", "config", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSetVersion(t *testing.T) {
	old := version
	defer func() { version = old }()

	SetVersion("1.2.3")
	out, err := execute(t, filepath.Join(t.TempDir(), "none.yaml"), "version")
	require.NoError(t, err)
	assert.Equal(t, "epubflat 1.2.3\n", out)
}

func TestConvert_PrintsIndexPath(t *testing.T) {
	dir := t.TempDir()
	outRoot := filepath.Join(dir, "out")
	book := writeBook(t, dir, "novel.epub")

	out, err := execute(t, writeConfig(t, outRoot), "convert", book)
	require.NoError(t, err)

	index := filepath.Join(outRoot, "novel", epubflat.IndexFile)
	absIndex, err := filepath.Abs(index)
	require.NoError(t, err)
	assert.Equal(t, absIndex, strings.TrimSpace(out))

	data, err := os.ReadFile(index)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<title>Package Title</title>")
	assert.Contains(t, string(data), "Hello from the first chapter.")
}

func TestConvert_FlagsOverrideConfig(t *testing.T) {
	dir := t.TempDir()
	book := writeBook(t, dir, "novel.epub")
	outDir := filepath.Join(dir, "site")
	tmpl := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(tmpl, []byte("<h1>${title}$</h1><nav>${menu}$</nav>${css}$<main>${content}$</main>"), 0644))

	out, err := execute(t, writeConfig(t, filepath.Join(dir, "unused")), "convert", book,
		"--title", "Given Title",
		"--out-dir", outDir,
		"--asset-prefix", "/assets",
		"--template", tmpl,
		"-o", "-",
	)
	require.NoError(t, err)

	assert.Contains(t, out, "<h1>Given Title</h1><nav>")
	assert.Contains(t, out, `src="/assets/novel/img/a.png"`)
	assert.DirExists(t, filepath.Join(outDir, "novel"))
	assert.NoDirExists(t, filepath.Join(dir, "unused", "novel"))
}

func TestConvert_OutputFile(t *testing.T) {
	dir := t.TempDir()
	book := writeBook(t, dir, "novel.epub")
	page := filepath.Join(dir, "page.html")

	out, err := execute(t, writeConfig(t, filepath.Join(dir, "out")), "convert", book, "--output", page)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(page)
	require.NoError(t, err)
	assert.Contains(t, string(data), `src="/books/novel/img/a.png"`)
	assert.Contains(t, string(data), `loading="lazy"`)
}

func TestConvert_Errors(t *testing.T) {
	dir := t.TempDir()
	cfgFile := writeConfig(t, filepath.Join(dir, "out"))

	_, err := execute(t, cfgFile, "convert", filepath.Join(dir, "missing.epub"))
	assert.ErrorContains(t, err, "archive not found")

	bad := filepath.Join(dir, "bad.epub")
	require.NoError(t, os.WriteFile(bad, []byte("not a zip"), 0644))
	_, err = execute(t, cfgFile, "convert", bad)
	assert.ErrorIs(t, err, epubflat.ErrArchiveRead)

	_, err = execute(t, cfgFile, "convert")
	assert.Error(t, err)
}

func TestConfig_InitShowPath(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "sub", "config.yaml")

	out, err := execute(t, cfgFile, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, cfgFile+"\n", out)

	out, err = execute(t, cfgFile, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgFile)
	assert.FileExists(t, cfgFile)

	_, err = execute(t, cfgFile, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, cfgFile, "config", "init", "--force")
	require.NoError(t, err)

	out, err = execute(t, cfgFile, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "# config file: "+cfgFile)
	assert.Contains(t, out, "output_root: ./static")
	assert.Contains(t, out, "max_nav_depth: 64")
}

func TestInvalidConfig(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("log:\n  level: loud\n"), 0644))

	_, err := execute(t, cfgFile, "version")
	assert.ErrorContains(t, err, "log.level")
}
