package archive

import (
	"context"
	"fmt"
	"os"

	"github.com/klauspost/compress/zip"

	"github.com/yourusername/archive-forge/internal/progress"
)

func extractZip(ctx context.Context, e *Extractor, archivePath, dest string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	total := len(r.File)
	files := make([]string, 0, total)
	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := decodeName(f.Name, f.NonUTF8, e.NameEncoding)
		if f.FileInfo().IsDir() || isDirName(name) || f.Mode()&os.ModeSymlink != 0 {
			continue
		}
		target, ok := safeJoin(dest, name)
		if !ok {
			e.report(fmt.Sprintf("不正なパスのエントリをスキップしました: %s", name), progress.NoPercent)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", name, err)
		}
		err = writeFile(target, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		files = append(files, target)
		e.report(fmt.Sprintf("ZIPを展開中: %s", name), progress.Fraction(i+1, total))
	}
	return files, nil
}
