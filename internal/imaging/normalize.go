package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "image/gif"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/archive-forge/internal/progress"
)

const (
	// DefaultMaxWidth と DefaultMaxHeight は A4 を約300DPIで表したピクセル数です。
	DefaultMaxWidth  = 2480
	DefaultMaxHeight = 3508

	jpegQuality = 90
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestCompression}

// Normalizer は画像をPDFに埋め込める形式に変換し、ページに収まるよう縮小します。
type Normalizer struct {
	MaxWidth  int
	MaxHeight int
	// Workers はグループ内で同時に処理する画像の数です。0以下なら1枚ずつ処理します。
	Workers int
	Sink    progress.Sink
	Logger  zerolog.Logger
}

// ToPDFSafeFormat は PNG/JPEG 以外の画像を PNG に変換し、outDir に書き出したパスを返します。
// すでに PNG か JPEG の場合は元のパスをそのまま返します。
// アルファチャンネルやパレットを持つ画像は透過を保ったまま変換します。
func (n *Normalizer) ToPDFSafeFormat(path, outDir string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("detect format: %w", err)
	}
	if mtype.Is("image/png") || mtype.Is("image/jpeg") {
		return path, nil
	}

	src, err := decodeFile(path)
	if err != nil {
		return "", err
	}

	var dst draw.Image
	if hasAlpha(src) {
		dst = image.NewNRGBA(src.Bounds())
	} else {
		dst = image.NewRGBA(src.Bounds())
	}
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	out, target, err := createUnique(outDir, stem(path), ".png")
	if err != nil {
		return "", err
	}
	if err := pngEncoder.Encode(out, dst); err != nil {
		out.Close()
		os.Remove(target)
		return "", fmt.Errorf("encode png: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return "", fmt.Errorf("close %s: %w", filepath.Base(target), err)
	}
	return target, nil
}

// FitToPage は画像が maxWidth x maxHeight に収まるよう縦横比を保って縮小し、同じパスに上書きします。
// すでに収まっている場合はファイルに触れません。拡大は行いません。
func (n *Normalizer) FitToPage(path string, maxWidth, maxHeight int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open image: %w", err)
	}
	cfg, format, err := image.DecodeConfig(f)
	f.Close()
	if err != nil {
		return "", fmt.Errorf("decode image header: %w", err)
	}

	width, height, resize := fitSize(cfg.Width, cfg.Height, maxWidth, maxHeight)
	if !resize {
		return path, nil
	}
	if format != "jpeg" && format != "png" {
		return "", fmt.Errorf("resize of %s images is not supported", format)
	}

	src, err := decodeFile(path)
	if err != nil {
		return "", err
	}
	var dst draw.Image
	if hasAlpha(src) {
		dst = image.NewNRGBA(image.Rect(0, 0, width, height))
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
	}
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)

	// 失敗しても元の画像が残るよう一時ファイルに書いてから置き換える
	tmp, err := os.CreateTemp(filepath.Dir(path), ".resize-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if format == "jpeg" {
		err = jpeg.Encode(tmp, dst, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = pngEncoder.Encode(tmp, dst)
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("encode resized image: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("replace image: %w", err)
	}
	return path, nil
}

// ProcessGroup は各画像を ToPDFSafeFormat と FitToPage に順に通します。
// 失敗した画像は元のファイルで代用するため、結果の件数と順序は入力と一致します。
// エラーを返すのは ctx がキャンセルされた場合のみです。
func (n *Normalizer) ProcessGroup(ctx context.Context, paths []string, outDir string) ([]string, error) {
	results := make([]string, len(paths))
	total := len(paths)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	workers := n.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = n.processOne(path, outDir)

			mu.Lock()
			done++
			progress.Report(n.Sink, fmt.Sprintf("画像を処理中 (%d/%d): %s", done, total, filepath.Base(path)), progress.Fraction(done, total))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (n *Normalizer) processOne(path, outDir string) string {
	converted, err := n.ToPDFSafeFormat(path, outDir)
	if err != nil {
		n.Logger.Warn().Err(err).Str("image", path).Msg("format conversion failed, using original")
		return path
	}

	maxWidth, maxHeight := n.MaxWidth, n.MaxHeight
	if maxWidth <= 0 || maxHeight <= 0 {
		maxWidth, maxHeight = DefaultMaxWidth, DefaultMaxHeight
	}
	fitted, err := n.FitToPage(converted, maxWidth, maxHeight)
	if err != nil {
		n.Logger.Warn().Err(err).Str("image", converted).Msg("resize failed, using unresized image")
		return converted
	}
	return fitted
}

// fitSize は縮小後のサイズを返します。縮小が不要な場合 resize は false です。
func fitSize(width, height, maxWidth, maxHeight int) (int, int, bool) {
	if width <= 0 || height <= 0 {
		return width, height, false
	}
	scale := min(float64(maxWidth)/float64(width), float64(maxHeight)/float64(height))
	if scale >= 1 {
		return width, height, false
	}
	w := max(1, int(float64(width)*scale+0.5))
	h := max(1, int(float64(height)*scale+0.5))
	return min(w, maxWidth), min(h, maxHeight), true
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func hasAlpha(img image.Image) bool {
	switch m := img.(type) {
	case *image.Paletted:
		return true
	case *image.NRGBA, *image.NRGBA64, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	case *image.RGBA:
		return !m.Opaque()
	default:
		return false
	}
}

// createUnique は dir/name+ext を作成します。同名のファイルがある場合は _2, _3 と番号を付けます。
func createUnique(dir, name, ext string) (*os.File, string, error) {
	for i := 1; ; i++ {
		candidate := name + ext
		if i > 1 {
			candidate = name + "_" + strconv.Itoa(i) + ext
		}
		target := filepath.Join(dir, candidate)
		f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if err == nil {
			return f, target, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
	}
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
