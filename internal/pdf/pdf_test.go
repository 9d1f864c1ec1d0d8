package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/archive-forge/internal/imaging"
	"github.com/yourusername/archive-forge/internal/progress"
)

func writeTestPNG(t *testing.T, path string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	for y := 0; y < 60; y++ {
		img.Set(20, y, color.RGBA{B: 255, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestParsePageSize(t *testing.T) {
	size, err := ParsePageSize("letter")
	require.NoError(t, err)
	assert.Equal(t, PageSizeLetter, size)

	size, err = ParsePageSize("")
	require.NoError(t, err)
	assert.Equal(t, PageSizeA4, size)

	_, err = ParsePageSize("A3")
	assert.Error(t, err)
}

func TestComposeByFolder(t *testing.T) {
	root := t.TempDir()
	a1 := writeTestPNG(t, filepath.Join(root, "folderA", "1.png"))
	a2 := writeTestPNG(t, filepath.Join(root, "folderA", "2.png"))
	b1 := writeTestPNG(t, filepath.Join(root, "folderB", "1.png"))
	top := writeTestPNG(t, filepath.Join(root, "cover.png"))

	groups := []imaging.Group{
		{Dir: root, Images: []string{top}},
		{Dir: filepath.Join(root, "folderA"), Images: []string{a1, a2}},
		{Dir: filepath.Join(root, "folderB"), Images: []string{b1}},
	}

	var percents []float64
	c := &Composer{
		PageSize: PageSizeLetter,
		Sink: progress.SinkFunc(func(_ string, pct float64) {
			if pct != progress.NoPercent {
				percents = append(percents, pct)
			}
		}),
		Logger: zerolog.Nop(),
	}
	outDir := filepath.Join(t.TempDir(), "pdfs")
	docs, err := c.ComposeByFolder(context.Background(), root, groups, outDir, "book")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "book_root.pdf", docs[0].Filename)
	assert.Equal(t, RootLabel, docs[0].Label)
	assert.Equal(t, "book_folderA.pdf", docs[1].Filename)
	assert.Equal(t, 2, docs[1].Pages)
	assert.Equal(t, "book_folderB.pdf", docs[2].Filename)
	assert.Equal(t, 1, docs[2].Pages)

	for _, doc := range docs {
		assert.FileExists(t, doc.Path)
		assert.Positive(t, doc.Size)
		pages, err := pdfapi.PageCountFile(doc.Path)
		require.NoError(t, err)
		assert.Equal(t, doc.Pages, pages)
	}

	require.Len(t, percents, 3)
	assert.InDelta(t, 100, percents[2], 0.001)
}

func TestComposeSkipsMissingImagesAndEmptyGroups(t *testing.T) {
	root := t.TempDir()
	present := writeTestPNG(t, filepath.Join(root, "A", "1.png"))
	groups := []imaging.Group{
		{Dir: filepath.Join(root, "A"), Images: []string{present, filepath.Join(root, "A", "gone.png")}},
		{Dir: filepath.Join(root, "B"), Images: []string{filepath.Join(root, "B", "gone.png")}},
	}

	c := &Composer{Logger: zerolog.Nop()}
	docs, err := c.ComposeByFolder(context.Background(), root, groups, filepath.Join(root, "out"), "converted")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "converted_A.pdf", docs[0].Filename)
	assert.Equal(t, 1, docs[0].Pages)
	assert.NoFileExists(t, filepath.Join(root, "out", "converted_B.pdf"))
}

func TestComposeOverwritesExistingOutput(t *testing.T) {
	root := t.TempDir()
	img := writeTestPNG(t, filepath.Join(root, "1.png"))
	out := filepath.Join(root, "out.pdf")

	c := &Composer{Logger: zerolog.Nop(), Optimize: true}
	_, err := c.Compose([]string{img, img}, out)
	require.NoError(t, err)
	doc, err := c.Compose([]string{img}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Pages)
}

func TestComposeByFolderDeduplicatesNames(t *testing.T) {
	root := t.TempDir()
	x := writeTestPNG(t, filepath.Join(root, "v1", "ch", "1.png"))
	y := writeTestPNG(t, filepath.Join(root, "v2", "ch", "1.png"))
	groups := []imaging.Group{
		{Dir: filepath.Dir(x), Images: []string{x}},
		{Dir: filepath.Dir(y), Images: []string{y}},
	}

	c := &Composer{Logger: zerolog.Nop()}
	docs, err := c.ComposeByFolder(context.Background(), root, groups, filepath.Join(root, "out"), "converted")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "converted_ch.pdf", docs[0].Filename)
	assert.Equal(t, "converted_ch_2.pdf", docs[1].Filename)
}

func TestComposeByFolderCanceled(t *testing.T) {
	root := t.TempDir()
	img := writeTestPNG(t, filepath.Join(root, "1.png"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := &Composer{Logger: zerolog.Nop()}
	_, err := c.ComposeByFolder(ctx, root, []imaging.Group{{Dir: root, Images: []string{img}}}, filepath.Join(root, "out"), "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUniqueName(t *testing.T) {
	used := make(map[string]int)
	assert.Equal(t, "a.pdf", uniqueName(used, "a", ".pdf"))
	assert.Equal(t, "a_2.pdf", uniqueName(used, "a", ".pdf"))
	assert.Equal(t, "a_2_2.pdf", uniqueName(used, "a_2", ".pdf"))
	assert.Equal(t, "a_3.pdf", uniqueName(used, "a", ".pdf"))
}

func TestCreatePackage(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "sub", "book_A.pdf")
	second := filepath.Join(dir, "book_B.pdf")
	require.NoError(t, os.MkdirAll(filepath.Dir(first), 0o755))
	require.NoError(t, os.WriteFile(first, []byte("%PDF-1.7 a"), 0o600))
	require.NoError(t, os.WriteFile(second, []byte("%PDF-1.7 b"), 0o600))

	out := filepath.Join(dir, "outputs", "result.zip")
	require.NoError(t, CreatePackage([]string{first, filepath.Join(dir, "missing.pdf"), second}, out))

	r, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"book_A.pdf", "book_B.pdf"}, names)
}

func TestPackageFailsWithoutInputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "result.zip")

	assert.Error(t, CreatePackage([]string{filepath.Join(dir, "missing.pdf")}, out))
	assert.NoFileExists(t, out)

	err := CreatePackage(nil, out)
	assert.ErrorIs(t, err, ErrEmptyPackage)
}
