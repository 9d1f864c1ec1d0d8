package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/yourusername/archive-forge/internal/progress"
)

type zipEntry struct {
	name    string
	data    []byte
	nonUTF8 bool
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, entry := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name, Method: zip.Deflate, NonUTF8: entry.nonUTF8})
		require.NoError(t, err)
		_, err = w.Write(entry.data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTemp(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestExtractor(maxDepth int) (*Extractor, *[]string) {
	var messages []string
	return &Extractor{
		MaxDepth:     maxDepth,
		NameEncoding: "gb18030",
		Sink: progress.SinkFunc(func(message string, _ float64) {
			messages = append(messages, message)
		}),
		Logger: zerolog.Nop(),
	}, &messages
}

func relPaths(t *testing.T, root string, paths []string) []string {
	t.Helper()
	rel := make([]string, 0, len(paths))
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)
	return rel
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()

	zipPath := writeTemp(t, dir, "a.bin", buildZip(t, zipEntry{name: "x.txt", data: []byte("x")}))
	kind, err := Sniff(zipPath)
	require.NoError(t, err)
	assert.Equal(t, KindZip, kind)

	textPath := writeTemp(t, dir, "fake.zip", []byte("not an archive at all"))
	kind, err = Sniff(textPath)
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, kind)

	_, err = Sniff(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestExtractFlatZip(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "book.zip", buildZip(t,
		zipEntry{name: "ch1/001.jpg", data: []byte("one")},
		zipEntry{name: "ch1/002.jpg", data: []byte("two")},
		zipEntry{name: "cover.png", data: []byte("cover")},
	))
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"ch1/001.jpg", "ch1/002.jpg", "cover.png"}, relPaths(t, dest, files))
	data, err := os.ReadFile(filepath.Join(dest, "ch1", "002.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestExtractNestedArchives(t *testing.T) {
	dir := t.TempDir()
	level3 := buildZip(t, zipEntry{name: "deep.jpg", data: []byte("deep")})
	level2 := buildZip(t,
		zipEntry{name: "mid.jpg", data: []byte("mid")},
		zipEntry{name: "inner.zip", data: level3},
	)
	level1 := buildZip(t,
		zipEntry{name: "top.jpg", data: []byte("top")},
		zipEntry{name: "sub/middle.zip", data: level2},
	)
	src := writeTemp(t, dir, "outer.zip", level1)
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{
		"sub/nested_middle/mid.jpg",
		"sub/nested_middle/nested_inner/deep.jpg",
		"top.jpg",
	}, relPaths(t, dest, files))

	// 展開済みのネストしたアーカイブは削除される
	assert.NoFileExists(t, filepath.Join(dest, "sub", "middle.zip"))
	assert.NoFileExists(t, filepath.Join(dest, "sub", "nested_middle", "inner.zip"))
}

func TestExtractStopsAtMaxDepth(t *testing.T) {
	dir := t.TempDir()
	data := buildZip(t, zipEntry{name: "bottom.jpg", data: []byte("bottom")})
	for i := 0; i < 12; i++ {
		data = buildZip(t,
			zipEntry{name: "page.jpg", data: []byte("page")},
			zipEntry{name: "level.zip", data: data},
		)
	}
	src := writeTemp(t, dir, "deep.zip", data)
	dest := filepath.Join(dir, "out")

	e, messages := newTestExtractor(3)
	files := e.Extract(context.Background(), src, dest)

	require.NotEmpty(t, files)
	rel := relPaths(t, dest, files)
	for _, p := range rel {
		assert.LessOrEqual(t, strings.Count(p, "nested_level"), 3, p)
	}
	// 深度上限に達したアーカイブはファイルとして残る
	assert.Contains(t, rel, "nested_level/nested_level/nested_level/level.zip")
	assert.NotContains(t, rel, "bottom.jpg")

	found := false
	for _, m := range *messages {
		if strings.Contains(m, "最大展開深度") {
			found = true
		}
	}
	assert.True(t, found, "depth limit should be reported")
}

func TestExtractSkipsTraversalEntries(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "evil.zip", buildZip(t,
		zipEntry{name: "../escape.txt", data: []byte("evil")},
		zipEntry{name: "ok.jpg", data: []byte("ok")},
	))
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"ok.jpg"}, relPaths(t, dest, files))
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestExtractUnsupportedReturnsEmpty(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "notes.zip", []byte("plain text pretending to be a zip"))

	e, messages := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, filepath.Join(dir, "out"))

	assert.Empty(t, files)
	assert.NotEmpty(t, *messages)
}

func TestExtractCorruptNestedArchiveIsKept(t *testing.T) {
	dir := t.TempDir()
	// 先頭はZIPのシグネチャだが中身は壊れている
	broken := append([]byte("PK\x03\x04"), bytes.Repeat([]byte{0}, 64)...)
	src := writeTemp(t, dir, "outer.zip", buildZip(t,
		zipEntry{name: "a.jpg", data: []byte("a")},
		zipEntry{name: "broken.zip", data: broken},
	))
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"a.jpg", "broken.zip"}, relPaths(t, dest, files))
	assert.NoDirExists(t, filepath.Join(dest, "nested_broken"))
}

func TestExtractDiscardsPartialNestedExtraction(t *testing.T) {
	dir := t.TempDir()

	var inner bytes.Buffer
	zw := zip.NewWriter(&inner)
	for _, entry := range []struct{ name, data string }{
		{"ok.jpg", "first-entry"},
		{"bad.jpg", "second-entry"},
	} {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: entry.name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write([]byte(entry.data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	// 2つ目のエントリの中身を書き換えてCRCを不一致にする
	corrupted := bytes.Replace(inner.Bytes(), []byte("second-entry"), []byte("XXXXXX-entry"), 1)

	src := writeTemp(t, dir, "outer.zip", buildZip(t,
		zipEntry{name: "a.jpg", data: []byte("a")},
		zipEntry{name: "inner.zip", data: corrupted},
	))
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"a.jpg", "inner.zip"}, relPaths(t, dest, files))
	assert.NoDirExists(t, filepath.Join(dest, "nested_inner"))
}

func TestExtractTarGzip(t *testing.T) {
	dir := t.TempDir()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	add := func(name string, body []byte) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "vol1/", Mode: 0o755, Typeflag: tar.TypeDir}))
	add("vol1/01.png", []byte("p1"))
	add("vol1/02.png", []byte("p2"))
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "vol1/link", Linkname: "01.png", Typeflag: tar.TypeSymlink}))
	require.NoError(t, tw.Close())

	var gzBuf bytes.Buffer
	gw := gzip.NewWriter(&gzBuf)
	_, err := gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	src := writeTemp(t, dir, "book.tar.gz", gzBuf.Bytes())
	kind, err := Sniff(src)
	require.NoError(t, err)
	assert.Equal(t, KindTarGzip, kind)

	dest := filepath.Join(dir, "out")
	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"vol1/01.png", "vol1/02.png"}, relPaths(t, dest, files))
}

func TestExtractDecodesLegacyZipNames(t *testing.T) {
	dir := t.TempDir()
	encoded, err := simplifiedchinese.GB18030.NewEncoder().String("漫画/001.jpg")
	require.NoError(t, err)

	src := writeTemp(t, dir, "legacy.zip", buildZip(t, zipEntry{name: encoded, data: []byte("x"), nonUTF8: true}))
	dest := filepath.Join(dir, "out")

	e, _ := newTestExtractor(DefaultMaxDepth)
	files := e.Extract(context.Background(), src, dest)

	assert.Equal(t, []string{"漫画/001.jpg"}, relPaths(t, dest, files))
}

func TestExtractReportsMonotonicProgress(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "p.zip", buildZip(t,
		zipEntry{name: "1.jpg", data: []byte("1")},
		zipEntry{name: "2.jpg", data: []byte("2")},
		zipEntry{name: "3.jpg", data: []byte("3")},
		zipEntry{name: "4.jpg", data: []byte("4")},
	))

	var percents []float64
	e := &Extractor{
		MaxDepth: DefaultMaxDepth,
		Sink: progress.SinkFunc(func(_ string, pct float64) {
			if pct != progress.NoPercent {
				percents = append(percents, pct)
			}
		}),
		Logger: zerolog.Nop(),
	}
	e.Extract(context.Background(), src, filepath.Join(dir, "out"))

	require.NotEmpty(t, percents)
	assert.Equal(t, []float64{25, 50, 75, 100, 100}, percents)
}

func TestExtractHonorsCancellation(t *testing.T) {
	dir := t.TempDir()
	src := writeTemp(t, dir, "c.zip", buildZip(t, zipEntry{name: "1.jpg", data: []byte("1")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e, _ := newTestExtractor(DefaultMaxDepth)
	assert.Empty(t, e.Extract(ctx, src, filepath.Join(dir, "out")))
}

func TestSafeJoin(t *testing.T) {
	dest := filepath.Join("tmp", "dest")
	cases := []struct {
		name string
		ok   bool
	}{
		{"a/b.jpg", true},
		{"/abs/c.jpg", true},
		{"..\\evil.jpg", false},
		{"../evil.jpg", false},
		{"a/../../evil.jpg", false},
		{"a/../b.jpg", true},
		{"", false},
		{".", false},
	}
	for _, tc := range cases {
		got, ok := safeJoin(dest, tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		if ok {
			assert.True(t, strings.HasPrefix(got, dest+string(filepath.Separator)), got)
		}
	}
}
