package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/archive-forge/internal/progress"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func writeGIF(t *testing.T, path string) {
	t.Helper()
	palette := color.Palette{color.Transparent, color.RGBA{G: 255, A: 255}}
	img := image.NewPaletted(image.Rect(0, 0, 4, 4), palette)
	img.SetColorIndex(1, 1, 1)
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestSortNatural(t *testing.T) {
	paths := []string{"file10.jpg", "file2.jpg", "file1.jpg"}
	SortNatural(paths)
	assert.Equal(t, []string{"file1.jpg", "file2.jpg", "file10.jpg"}, paths)

	mixed := []string{"Page_010.png", "page_9.png", "page_0011.png", "cover.png", "Page_9.png"}
	SortNatural(mixed)
	assert.Equal(t, []string{"cover.png", "Page_9.png", "page_9.png", "Page_010.png", "page_0011.png"}, mixed)
}

func TestNaturalCompareIsTotal(t *testing.T) {
	assert.Equal(t, 0, NaturalCompare("a1", "a1"))
	assert.NotEqual(t, 0, NaturalCompare("a01", "a1"))
	assert.Equal(t, -NaturalCompare("x2y", "x10y"), NaturalCompare("x10y", "x2y"))
	assert.Negative(t, NaturalCompare("1", "a"))
}

func TestCollectGroupsAndOmitsEmptyDirs(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "A", "10.png"), 2, 2)
	writePNG(t, filepath.Join(root, "A", "2.png"), 2, 2)
	writeJPEG(t, filepath.Join(root, "A", "1.jpg"), 2, 2)
	writePNG(t, filepath.Join(root, "B", "cover.png"), 2, 2)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "readme.txt"), []byte("hello"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "A", "notes.txt"), []byte("notes"), 0o600))

	groups, err := Collect(root)
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, filepath.Join(root, "A"), groups[0].Dir)
	assert.Equal(t, []string{
		filepath.Join(root, "A", "1.jpg"),
		filepath.Join(root, "A", "2.png"),
		filepath.Join(root, "A", "10.png"),
	}, groups[0].Images)
	assert.Equal(t, filepath.Join(root, "B"), groups[1].Dir)

	for _, g := range groups {
		assert.NotEqual(t, filepath.Join(root, "docs"), g.Dir)
	}
}

func TestCollectSkipsResourceForks(t *testing.T) {
	root := t.TempDir()
	writePNG(t, filepath.Join(root, "1.png"), 2, 2)
	require.NoError(t, os.WriteFile(filepath.Join(root, "._1.png"), []byte{0, 5, 22, 7, 0, 2}, 0o600))
	writePNG(t, filepath.Join(root, "__MACOSX", "1.png"), 2, 2)

	groups, err := Collect(root)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []string{filepath.Join(root, "1.png")}, groups[0].Images)
}

func TestIsImageFallsBackToExtension(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "scan.tif")
	require.NoError(t, os.WriteFile(unknown, []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01}, 0o600))
	ok, err := IsImage(unknown)
	require.NoError(t, err)
	assert.True(t, ok)

	text := filepath.Join(dir, "fake.jpg")
	require.NoError(t, os.WriteFile(text, []byte("just some text"), 0o600))
	ok, err = IsImage(text)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestToPDFSafeFormatKeepsPNG(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.png")
	writePNG(t, src, 3, 3)

	n := &Normalizer{Logger: zerolog.Nop()}
	got, err := n.ToPDFSafeFormat(src, filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, src, got)
}

func TestToPDFSafeFormatConvertsPaletted(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "anim.gif")
	writeGIF(t, src)
	outDir := filepath.Join(dir, "out")

	n := &Normalizer{Logger: zerolog.Nop()}
	got, err := n.ToPDFSafeFormat(src, outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "anim.png"), got)

	f, err := os.Open(got)
	require.NoError(t, err)
	defer f.Close()
	img, format, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	_, _, _, a := img.At(0, 0).RGBA()
	assert.Zero(t, a, "transparency should be preserved")

	// 同名の出力があっても上書きしない
	again, err := n.ToPDFSafeFormat(src, outDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outDir, "anim_2.png"), again)
}

func TestToPDFSafeFormatRejectsCorruptImage(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.bmp")
	require.NoError(t, os.WriteFile(src, []byte("BM not really a bitmap"), 0o600))

	n := &Normalizer{Logger: zerolog.Nop()}
	_, err := n.ToPDFSafeFormat(src, dir)
	assert.Error(t, err)
}

func TestFitToPageLeavesSmallImageUntouched(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "small.png")
	writePNG(t, src, 20, 30)
	before, err := os.ReadFile(src)
	require.NoError(t, err)

	n := &Normalizer{Logger: zerolog.Nop()}
	got, err := n.FitToPage(src, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	after, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFitToPageDownscalesPreservingAspect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "big.jpg")
	writeJPEG(t, src, 400, 200)

	n := &Normalizer{Logger: zerolog.Nop()}
	got, err := n.FitToPage(src, 100, 100)
	require.NoError(t, err)
	assert.Equal(t, src, got)

	f, err := os.Open(src)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
}

func TestFitSize(t *testing.T) {
	w, h, resize := fitSize(2480, 3508, 2480, 3508)
	assert.False(t, resize)
	assert.Equal(t, 2480, w)
	assert.Equal(t, 3508, h)

	w, h, resize = fitSize(4960, 3508, 2480, 3508)
	assert.True(t, resize)
	assert.Equal(t, 2480, w)
	assert.Equal(t, 1754, h)
}

func TestProcessGroupPreservesOrderAndCardinality(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "1.png")
	b := filepath.Join(dir, "2.gif")
	c := filepath.Join(dir, "3.webp")
	d := filepath.Join(dir, "4.jpg")
	writePNG(t, a, 8, 8)
	writeGIF(t, b)
	require.NoError(t, os.WriteFile(c, []byte("RIFF\x00\x00\x00\x00WEBPgarbage"), 0o600))
	writeJPEG(t, d, 300, 10)

	var percents []float64
	n := &Normalizer{
		MaxWidth:  100,
		MaxHeight: 100,
		Workers:   3,
		Sink: progress.SinkFunc(func(_ string, pct float64) {
			percents = append(percents, pct)
		}),
		Logger: zerolog.Nop(),
	}
	outDir := filepath.Join(dir, "out")
	got, err := n.ProcessGroup(context.Background(), []string{a, b, c, d}, outDir)
	require.NoError(t, err)

	require.Len(t, got, 4)
	assert.Equal(t, a, got[0])
	assert.Equal(t, filepath.Join(outDir, "2.png"), got[1])
	assert.Equal(t, c, got[2], "undecodable image falls back to the original")
	assert.Equal(t, d, got[3])

	assert.Equal(t, []float64{25, 50, 75, 100}, percents)
}

func TestProcessGroupCanceled(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "1.png")
	writePNG(t, a, 2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := &Normalizer{Logger: zerolog.Nop()}
	_, err := n.ProcessGroup(ctx, []string{a}, dir)
	assert.ErrorIs(t, err, context.Canceled)
}
