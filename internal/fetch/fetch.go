// Package fetch はリモートのアルバムを取得し、画像をZIPアーカイブにまとめます。
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/archive-forge/internal/progress"
)

const (
	defaultBackoff     = 2 * time.Second
	defaultConcurrency = 3
	maxImageBytes      = 64 << 20
)

// ErrNoImages はアルバムに画像が含まれていないことを表します。
var ErrNoImages = errors.New("album has no images")

// Album はアルバムAPIのレスポンスです。
type Album struct {
	Title  string   `json:"title"`
	Images []string `json:"images"`
}

// HTTPFetcher は {BaseURL}/albums/{id} からアルバムを取得します。
type HTTPFetcher struct {
	BaseURL string
	Client  *http.Client
	// Retries は1リクエストあたりの再試行回数です。
	Retries int
	// Backoff は再試行間隔の単位です。n回目の再試行は n*Backoff 待ちます。
	Backoff     time.Duration
	Concurrency int
	Logger      zerolog.Logger
}

// Fetch はアルバムの画像をすべてダウンロードし、destDir/album_<id>.zip に
// 0001.jpg, 0002.png ... の名前で格納してそのパスを返します。
// 画像ごとの取得状況は sink に 0〜100 で通知します。
func (f *HTTPFetcher) Fetch(ctx context.Context, albumID, destDir string, sink progress.Sink) (string, error) {
	albumID = strings.TrimSpace(albumID)
	if albumID == "" {
		return "", fmt.Errorf("album id is required")
	}
	if strings.TrimSpace(f.BaseURL) == "" {
		return "", fmt.Errorf("album base url is not configured")
	}

	album, err := f.fetchAlbum(ctx, albumID)
	if err != nil {
		return "", err
	}
	if len(album.Images) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoImages, albumID)
	}
	progress.Report(sink, fmt.Sprintf("アルバム「%s」の画像 %d 枚を取得します", album.Title, len(album.Images)), 0)

	images, err := f.downloadAll(ctx, album.Images, sink)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return "", fmt.Errorf("create fetch dir: %w", err)
	}
	outputPath := filepath.Join(destDir, "album_"+safeID(albumID)+".zip")
	if err := writeAlbumZip(outputPath, images); err != nil {
		return "", err
	}
	progress.Report(sink, "アルバムの取得が完了しました", 100)
	return outputPath, nil
}

type fetchedImage struct {
	data []byte
	ext  string
}

func (f *HTTPFetcher) fetchAlbum(ctx context.Context, albumID string) (*Album, error) {
	endpoint, err := url.JoinPath(f.BaseURL, "albums", url.PathEscape(albumID))
	if err != nil {
		return nil, fmt.Errorf("build album url: %w", err)
	}
	var album Album
	err = f.withRetry(ctx, func(ctx context.Context) error {
		body, err := f.get(ctx, endpoint)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &album); err != nil {
			return fmt.Errorf("decode album: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch album %s: %w", albumID, err)
	}
	return &album, nil
}

func (f *HTTPFetcher) downloadAll(ctx context.Context, urls []string, sink progress.Sink) ([]fetchedImage, error) {
	images := make([]fetchedImage, len(urls))
	total := len(urls)

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	concurrency := f.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	g.SetLimit(concurrency)

	for i, raw := range urls {
		g.Go(func() error {
			var data []byte
			err := f.withRetry(gctx, func(ctx context.Context) error {
				body, err := f.get(ctx, raw)
				if err != nil {
					return err
				}
				data = body
				return nil
			})
			if err != nil {
				return fmt.Errorf("download image %d: %w", i+1, err)
			}

			mtype := mimetype.Detect(data)
			if !strings.HasPrefix(mtype.String(), "image/") {
				return fmt.Errorf("download image %d: unexpected content type %s", i+1, mtype.String())
			}
			images[i] = fetchedImage{data: data, ext: mtype.Extension()}

			mu.Lock()
			done++
			progress.Report(sink, fmt.Sprintf("画像を取得中 (%d/%d)", done, total), progress.Fraction(done, total))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return images, nil
}

// withRetry は fn を最大 Retries 回まで再試行します。待ち時間は試行回数に比例して増えます。
func (f *HTTPFetcher) withRetry(ctx context.Context, fn retry.RetryFunc) error {
	retries := max(f.Retries, 0)
	unit := f.Backoff
	if unit <= 0 {
		unit = defaultBackoff
	}

	var attempt int64
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * unit, false
	})
	return retry.Do(ctx, retry.WithMaxRetries(uint64(retries), linear), func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			var permanent *permanentError
			if errors.As(err, &permanent) {
				return permanent.err
			}
			f.Logger.Debug().Err(err).Int64("attempt", attempt+1).Msg("request failed, retrying")
			return retry.RetryableError(err)
		}
		return nil
	})
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (f *HTTPFetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &permanentError{fmt.Errorf("build request: %w", err)}
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		err := fmt.Errorf("GET %s: %s", rawURL, resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, &permanentError{err}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxImageBytes {
		return nil, &permanentError{fmt.Errorf("GET %s: response exceeds %d bytes", rawURL, maxImageBytes)}
	}
	return body, nil
}

func writeAlbumZip(outputPath string, images []fetchedImage) error {
	out, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create album zip: %w", err)
	}
	zw := zip.NewWriter(out)
	writeErr := func() error {
		for i, img := range images {
			// 画像は圧縮済みのため無圧縮で格納する
			w, err := zw.CreateHeader(&zip.FileHeader{
				Name:     fmt.Sprintf("%04d%s", i+1, img.ext),
				Method:   zip.Store,
				Modified: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("write zip header: %w", err)
			}
			if _, err := w.Write(img.data); err != nil {
				return fmt.Errorf("write zip entry: %w", err)
			}
		}
		return nil
	}()
	if err := errors.Join(writeErr, zw.Close(), out.Close()); err != nil {
		_ = os.Remove(outputPath)
		return err
	}
	return nil
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeID(id string) string {
	cleaned := strings.Trim(unsafeIDChars.ReplaceAllString(id, "_"), "._")
	if cleaned == "" {
		return "album"
	}
	return cleaned
}
