package archive

import (
	"archive/tar"
	"compress/bzip2"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/ulikunitz/xz"

	"github.com/yourusername/archive-forge/internal/progress"
)

// openTar は圧縮形式に応じた伸長を挟んで tar.Reader を返します。
func openTar(archivePath string) (*tar.Reader, io.Closer, error) {
	kind, err := Sniff(archivePath)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open tar: %w", err)
	}

	var r io.Reader = f
	closer := io.Closer(f)
	switch kind {
	case KindTar:
	case KindTarGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		r = gz
		closer = multiCloser{gz, f}
	case KindTarBzip2:
		r = bzip2.NewReader(f)
	case KindTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("open xz stream: %w", err)
		}
		r = xr
	default:
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is not a tar stream", ErrUnsupported, kind)
	}
	return tar.NewReader(r), closer, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var errs []error
	for _, c := range m {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func countTarEntries(archivePath string) (int, error) {
	tr, closer, err := openTar(archivePath)
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	total := 0
	for {
		_, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read tar header: %w", err)
		}
		total++
	}
}

func extractTar(ctx context.Context, e *Extractor, archivePath, dest string) ([]string, error) {
	total, err := countTarEntries(archivePath)
	if err != nil {
		return nil, err
	}
	tr, closer, err := openTar(archivePath)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var files []string
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		target, ok := safeJoin(dest, hdr.Name)
		if !ok {
			e.report(fmt.Sprintf("不正なパスのエントリをスキップしました: %s", hdr.Name), progress.NoPercent)
			continue
		}
		if err := writeFile(target, tr); err != nil {
			return nil, err
		}

		files = append(files, target)
		e.report(fmt.Sprintf("TARを展開中: %s", hdr.Name), progress.Fraction(i+1, total))
	}
	return files, nil
}
