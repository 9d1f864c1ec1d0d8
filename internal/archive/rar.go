package archive

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nwaples/rardecode/v2"

	"github.com/yourusername/archive-forge/internal/progress"
)

func countRarEntries(archivePath string) (int, error) {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	total := 0
	for {
		_, err := r.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read rar header: %w", err)
		}
		total++
	}
}

func extractRar(ctx context.Context, e *Extractor, archivePath, dest string) ([]string, error) {
	total, err := countRarEntries(archivePath)
	if err != nil {
		return nil, err
	}
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open rar: %w", err)
	}
	defer r.Close()

	var files []string
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rar header: %w", err)
		}
		if hdr.IsDir || isDirName(hdr.Name) {
			continue
		}
		target, ok := safeJoin(dest, hdr.Name)
		if !ok {
			e.report(fmt.Sprintf("不正なパスのエントリをスキップしました: %s", hdr.Name), progress.NoPercent)
			continue
		}
		if err := writeFile(target, r); err != nil {
			return nil, err
		}

		files = append(files, target)
		e.report(fmt.Sprintf("RARを展開中: %s", hdr.Name), progress.Fraction(i+1, total))
	}
	return files, nil
}
