package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/yourusername/archive-forge/internal/progress"
)

// DefaultMaxDepth はネストしたアーカイブの既定の最大展開深度です。
const DefaultMaxDepth = 10

var (
	// ErrUnsupported は対応していない形式のファイルが渡されたことを表します。
	ErrUnsupported = errors.New("unsupported archive format")

	errDepthExceeded = errors.New("max extraction depth exceeded")
)

// handler は形式ごとの展開処理です。展開したファイルのパスを順に返します。
type handler func(ctx context.Context, e *Extractor, archivePath, dest string) ([]string, error)

var handlers = map[Kind]handler{
	KindZip:      extractZip,
	KindTar:      extractTar,
	KindTarGzip:  extractTar,
	KindTarBzip2: extractTar,
	KindTarXz:    extractTar,
	KindRar:      extractRar,
	KindSevenZip: extractSevenZip,
}

// Extractor はアーカイブを再帰的に展開します。
type Extractor struct {
	// MaxDepth を超える深さのアーカイブは展開せずそのまま残します。
	MaxDepth int
	// NameEncoding はUTF-8フラグのないZIPエントリ名の文字コードです。
	NameEncoding string
	Sink         progress.Sink
	Logger       zerolog.Logger
}

// Extract は archivePath を destDir に展開し、展開されたファイルのパスを返します。
// 展開したファイルの中にアーカイブがあれば nested_<名前> ディレクトリに再帰的に展開し、
// 元のアーカイブファイルは削除します。
// 失敗した場合は進捗メッセージを通知したうえで空の結果を返します。
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string) []string {
	files, err := e.extract(ctx, archivePath, destDir, 0)
	if err != nil {
		e.report(fmt.Sprintf("展開に失敗しました %s: %v", filepath.Base(archivePath), err), progress.NoPercent)
		e.Logger.Warn().Err(err).Str("archive", archivePath).Msg("extraction failed")
		return nil
	}
	return files
}

func (e *Extractor) extract(ctx context.Context, archivePath, dest string, depth int) ([]string, error) {
	if depth > e.MaxDepth {
		e.report(fmt.Sprintf("最大展開深度 %d に達したため展開を中止します", e.MaxDepth), progress.NoPercent)
		return nil, errDepthExceeded
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kind, err := Sniff(archivePath)
	if err != nil {
		return nil, err
	}
	extractFn, ok := handlers[kind]
	if !ok {
		e.report(fmt.Sprintf("対応していない圧縮形式です: %s", filepath.Base(archivePath)), progress.NoPercent)
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(archivePath))
	}

	if err := os.MkdirAll(dest, 0o750); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	e.report(fmt.Sprintf("展開を開始します: %s", filepath.Base(archivePath)), progress.NoPercent)
	files, err := extractFn(ctx, e, archivePath, dest)
	if err != nil {
		return nil, fmt.Errorf("%s extraction failed: %w", kind, err)
	}

	removed := make(map[string]struct{})
	var nestedFiles []string
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nestedKind, err := Sniff(path)
		if err != nil || nestedKind == KindUnknown {
			continue
		}

		e.report(fmt.Sprintf("ネストしたアーカイブを検出しました: %s", filepath.Base(path)), progress.NoPercent)
		nestedDest := filepath.Join(filepath.Dir(path), "nested_"+stem(path))
		nested, err := e.extract(ctx, path, nestedDest, depth+1)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			// 展開できなかったアーカイブは通常のファイルとして残し、途中まで書き出した内容は捨てる
			if !errors.Is(err, errDepthExceeded) {
				if rmErr := os.RemoveAll(nestedDest); rmErr != nil {
					e.Logger.Debug().Err(rmErr).Str("dir", nestedDest).Msg("failed to remove partial nested extraction")
				}
			}
			e.Logger.Debug().Err(err).Str("archive", path).Int("depth", depth+1).Msg("nested archive left as is")
			continue
		}
		nestedFiles = append(nestedFiles, nested...)

		if err := os.Remove(path); err != nil {
			e.Logger.Debug().Err(err).Str("archive", path).Msg("failed to remove nested archive")
			continue
		}
		removed[path] = struct{}{}
	}

	result := make([]string, 0, len(files)+len(nestedFiles))
	for _, path := range files {
		if _, ok := removed[path]; !ok {
			result = append(result, path)
		}
	}
	result = append(result, nestedFiles...)

	e.report(fmt.Sprintf("展開が完了しました: %s", filepath.Base(archivePath)), 100)
	return result, nil
}

func (e *Extractor) report(message string, percent float64) {
	progress.Report(e.Sink, message, percent)
}
