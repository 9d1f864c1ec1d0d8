// Package pdf はフォルダごとの画像からPDFを生成し、成果物をZIPにまとめます。
package pdf

import (
	"fmt"
	"strings"
)

// PageSize はPDFのページサイズのプリセットです。
type PageSize string

const (
	PageSizeA4     PageSize = "A4"     // 210 x 297 mm
	PageSizeLetter PageSize = "Letter" // 215.9 x 279.4 mm
)

// ParsePageSize は設定値をページサイズに変換します。大文字小文字は区別しません。
func ParsePageSize(s string) (PageSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "a4":
		return PageSizeA4, nil
	case "letter":
		return PageSizeLetter, nil
	default:
		return "", fmt.Errorf("unsupported page size: %s", s)
	}
}

// RootLabel は展開先ディレクトリ直下の画像から作ったPDFに付けるラベルです。
const RootLabel = "root"

// Document は生成されたPDF 1件を表します。
type Document struct {
	Label    string `json:"label"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages"`
}
