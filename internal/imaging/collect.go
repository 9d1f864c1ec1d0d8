// Package imaging はフォルダ単位の画像収集と、PDFに埋め込むための画像の正規化を行います。
package imaging

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Group は1つのディレクトリ直下にある画像を自然順に並べたものです。
type Group struct {
	Dir    string
	Images []string
}

var imageMIMEs = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/bmp",
	"image/webp",
	"image/tiff",
}

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".webp": {},
	".tif":  {},
	".tiff": {},
}

// Collect は root 以下を走査し、画像を含むディレクトリごとにグループ化します。
// 画像を1枚も含まないディレクトリは結果に含まれません。
// グループはディレクトリの自然順で返します。
func Collect(root string) ([]Group, error) {
	byDir := make(map[string][]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "._") {
			return nil
		}
		ok, err := IsImage(path)
		if err != nil {
			return err
		}
		if ok {
			dir := filepath.Dir(path)
			byDir[dir] = append(byDir[dir], path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect images under %s: %w", root, err)
	}

	groups := make([]Group, 0, len(byDir))
	for dir, images := range byDir {
		SortNatural(images)
		groups = append(groups, Group{Dir: dir, Images: images})
	}
	slices.SortFunc(groups, func(a, b Group) int {
		return NaturalCompare(a.Dir, b.Dir)
	})
	return groups, nil
}

// IsImage は内容から画像かどうかを判定します。
// 判定できない場合（application/octet-stream）は拡張子で判断します。
func IsImage(path string) (bool, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, fmt.Errorf("detect mime type of %s: %w", filepath.Base(path), err)
	}
	for _, m := range imageMIMEs {
		if mtype.Is(m) {
			return true, nil
		}
	}
	if mtype.Is("application/octet-stream") {
		_, ok := imageExtensions[strings.ToLower(filepath.Ext(path))]
		return ok, nil
	}
	return false, nil
}
