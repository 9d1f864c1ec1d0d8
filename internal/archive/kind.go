// Package archive はアップロードされたアーカイブを再帰的に展開します。
package archive

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// Kind は内容から判定したアーカイブ形式です。
type Kind int

const (
	KindUnknown Kind = iota
	KindZip
	KindTar
	KindTarGzip
	KindTarBzip2
	KindTarXz
	KindRar
	KindSevenZip
)

var kindNames = map[Kind]string{
	KindUnknown:  "unknown",
	KindZip:      "zip",
	KindTar:      "tar",
	KindTarGzip:  "tar.gz",
	KindTarBzip2: "tar.bz2",
	KindTarXz:    "tar.xz",
	KindRar:      "rar",
	KindSevenZip: "7z",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// kindByMIME は判定順を固定するためスライスで保持します。
var kindByMIME = []struct {
	mime string
	kind Kind
}{
	{"application/zip", KindZip},
	{"application/x-tar", KindTar},
	{"application/gzip", KindTarGzip},
	{"application/x-bzip2", KindTarBzip2},
	{"application/x-xz", KindTarXz},
	{"application/x-rar-compressed", KindRar},
	{"application/x-7z-compressed", KindSevenZip},
}

// Sniff はファイル先頭のシグネチャからアーカイブ形式を判定します。
// 拡張子は参照しないため、拡張子が偽装されたファイルも正しく扱えます。
// docx や epub のような ZIP ベースの文書形式はアーカイブとして扱いません。
func Sniff(path string) (Kind, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return KindUnknown, fmt.Errorf("detect mime type: %w", err)
	}
	for _, candidate := range kindByMIME {
		if mtype.Is(candidate.mime) {
			return candidate.kind, nil
		}
	}
	return KindUnknown, nil
}
