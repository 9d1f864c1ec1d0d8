package pdf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// ErrEmptyPackage はZIPに含めるファイルが1つもなかったことを表します。
var ErrEmptyPackage = errors.New("package would be empty")

// CreatePackage は documents をフラットな名前で1つのZIPにまとめます。
// 存在しないファイルは黙ってスキップします。
func CreatePackage(documents []string, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return fmt.Errorf("zip出力ディレクトリの作成に失敗しました: %w", err)
	}
	outFile, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("zipファイルの作成に失敗しました: %w", err)
	}

	zipWriter := zip.NewWriter(outFile)
	zipWriter.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	written := 0
	writeErr := func() error {
		for _, path := range documents {
			file, err := os.Open(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("zip入力ファイルのオープンに失敗しました: %w", err)
			}

			info, err := file.Stat()
			if err != nil {
				file.Close()
				return fmt.Errorf("zip入力ファイルの情報取得に失敗しました: %w", err)
			}
			if !info.Mode().IsRegular() {
				file.Close()
				continue
			}

			header, err := zip.FileInfoHeader(info)
			if err != nil {
				file.Close()
				return fmt.Errorf("zipヘッダーの生成に失敗しました: %w", err)
			}
			header.Name = filepath.Base(path)
			header.Method = zip.Deflate

			writer, err := zipWriter.CreateHeader(header)
			if err != nil {
				file.Close()
				return fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
			}

			if _, err := io.Copy(writer, file); err != nil {
				file.Close()
				return fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
			}
			file.Close()
			written++
		}
		return nil
	}()

	closeErr := errors.Join(zipWriter.Close(), outFile.Close())
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr == nil && written == 0 {
		writeErr = ErrEmptyPackage
	}
	if writeErr != nil {
		_ = os.Remove(outputPath)
		return writeErr
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fmt.Errorf("zipファイルの確認に失敗しました: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("zipファイルが空です: %s", filepath.Base(outputPath))
	}
	return nil
}
