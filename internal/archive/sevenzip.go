package archive

import (
	"context"
	"fmt"

	"github.com/bodgit/sevenzip"

	"github.com/yourusername/archive-forge/internal/progress"
)

func extractSevenZip(ctx context.Context, e *Extractor, archivePath, dest string) ([]string, error) {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open 7z: %w", err)
	}
	defer r.Close()

	total := len(r.File)
	files := make([]string, 0, total)
	for i, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.FileInfo().IsDir() || isDirName(f.Name) {
			continue
		}
		target, ok := safeJoin(dest, f.Name)
		if !ok {
			e.report(fmt.Sprintf("不正なパスのエントリをスキップしました: %s", f.Name), progress.NoPercent)
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open entry %s: %w", f.Name, err)
		}
		err = writeFile(target, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}

		files = append(files, target)
		e.report(fmt.Sprintf("7zを展開中: %s", f.Name), progress.Fraction(i+1, total))
	}
	return files, nil
}
