package pdf

import (
	"fmt"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// optimizeInPlace は pdfcpu で path を最適化し、小さくなった場合のみ置き換えます。
// 失敗した場合は元のファイルがそのまま残ります。
func optimizeInPlace(path string, conf *model.Configuration) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".optimize-*.pdf")
	if err != nil {
		return fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := pdfapi.OptimizeFile(path, tmpPath, conf); err != nil {
		return fmt.Errorf("PDFの最適化に失敗しました: %w", err)
	}

	before, err := os.Stat(path)
	if err != nil {
		return err
	}
	after, err := os.Stat(tmpPath)
	if err != nil {
		return err
	}
	if after.Size() == 0 || after.Size() >= before.Size() {
		return nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("最適化後のPDFの配置に失敗しました: %w", err)
	}
	return nil
}
