package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/imaging"
	"github.com/yourusername/archive-forge/internal/progress"
)

// ErrEmptyDocument は生成したPDFが存在しないか空であることを表します。
var ErrEmptyDocument = errors.New("generated document is empty")

// Composer は画像グループごとに1つのPDFを組み立てます。
type Composer struct {
	PageSize PageSize
	// Optimize が true の場合、生成したPDFを pdfcpu で最適化します。
	Optimize bool
	Sink     progress.Sink
	Logger   zerolog.Logger
}

func init() {
	// pdfcpu がユーザーディレクトリに設定ファイルを作らないようにする
	pdfapi.DisableConfigDir()
}

func (c *Composer) report(message string, percent float64) {
	progress.Report(c.Sink, message, percent)
}

func (c *Composer) configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (c *Composer) importDescription() (string, error) {
	size := c.PageSize
	if size == "" {
		size = PageSizeA4
	}
	if _, err := ParsePageSize(string(size)); err != nil {
		return "", err
	}
	// 正規化済みの画像をページ中央に、ページ全体に収まるよう配置する
	return fmt.Sprintf("f:%s, pos:c, sc:1.0 rel", size), nil
}

// ComposeByFolder はグループごとに <baseName>_<フォルダ名>.pdf を outDir に生成します。
// root 直下のグループには RootLabel を使います。
// 有効な画像が1枚もないグループや、生成に失敗したグループは結果から除外されます。
// エラーを返すのは出力先を作成できない場合と ctx がキャンセルされた場合のみです。
func (c *Composer) ComposeByFolder(ctx context.Context, root string, groups []imaging.Group, outDir, baseName string) ([]Document, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("PDF出力ディレクトリの作成に失敗しました: %w", err)
	}
	if baseName == "" {
		baseName = "converted"
	}

	used := make(map[string]int)
	documents := make([]Document, 0, len(groups))
	total := len(groups)

	for i, group := range groups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		label := filepath.Base(group.Dir)
		if filepath.Clean(group.Dir) == filepath.Clean(root) || label == "." || label == string(filepath.Separator) {
			label = RootLabel
		}
		filename := uniqueName(used, baseName+"_"+label, ".pdf")
		outputPath := filepath.Join(outDir, filename)

		c.report(fmt.Sprintf("PDFを生成中 (%d/%d): %s", i+1, total, filename), progress.NoPercent)
		doc, err := c.Compose(group.Images, outputPath)
		if err != nil {
			c.Logger.Warn().Err(err).Str("folder", group.Dir).Msg("document composition failed")
			c.report(fmt.Sprintf("PDFの生成に失敗しました: %s", filename), progress.NoPercent)
		} else {
			doc.Label = label
			documents = append(documents, *doc)
		}

		c.report(fmt.Sprintf("PDFを生成しました (%d/%d)", i+1, total), progress.Fraction(i+1, total))
	}
	return documents, nil
}

// Compose は images を1ページ1枚の順で outputPath のPDFにします。
// 存在しない画像はスキップします。
func (c *Composer) Compose(images []string, outputPath string) (*Document, error) {
	valid := make([]string, 0, len(images))
	for _, path := range images {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			c.report(fmt.Sprintf("画像が見つからないためスキップしました: %s", filepath.Base(path)), progress.NoPercent)
			continue
		}
		valid = append(valid, path)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("no images available for %s", filepath.Base(outputPath))
	}

	desc, err := c.importDescription()
	if err != nil {
		return nil, err
	}
	imp, err := pdfapi.Import(desc, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("invalid import description: %w", err)
	}

	// 出力先が既に存在すると pdfcpu はページを追記するため先に削除する
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("既存のPDFの削除に失敗しました: %w", err)
	}
	conf := c.configuration()
	if err := pdfapi.ImportImagesFile(valid, outputPath, imp, conf); err != nil {
		_ = os.Remove(outputPath)
		return nil, fmt.Errorf("PDFの生成に失敗しました: %w", err)
	}

	if c.Optimize {
		if err := optimizeInPlace(outputPath, conf); err != nil {
			c.Logger.Warn().Err(err).Str("document", outputPath).Msg("optimization failed, keeping unoptimized document")
		}
	}

	info, err := os.Stat(outputPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(outputPath)
		return nil, fmt.Errorf("%w: %s", ErrEmptyDocument, filepath.Base(outputPath))
	}

	pages, err := pdfapi.PageCountFile(outputPath)
	if err != nil {
		c.Logger.Debug().Err(err).Str("document", outputPath).Msg("page count unavailable")
		pages = len(valid)
	}

	return &Document{
		Filename: filepath.Base(outputPath),
		Path:     outputPath,
		Size:     info.Size(),
		Pages:    pages,
	}, nil
}

// uniqueName は同じフォルダ名が複数ある場合に _2, _3 と番号を付けます。
func uniqueName(used map[string]int, name, ext string) string {
	used[name]++
	if n := used[name]; n > 1 {
		candidate := name + "_" + strconv.Itoa(n)
		for used[candidate] > 0 {
			used[name]++
			candidate = name + "_" + strconv.Itoa(used[name])
		}
		used[candidate]++
		return candidate + ext
	}
	return name + ext
}
