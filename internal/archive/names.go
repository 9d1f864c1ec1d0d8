package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// safeJoin はエントリ名を展開先ディレクトリ配下のパスに変換します。
// 展開先の外を指すエントリ（zip-slip）の場合は false を返します。
func safeJoin(dest, name string) (string, bool) {
	name = strings.TrimLeft(strings.ReplaceAll(name, "\\", "/"), "/")
	if name == "" {
		return "", false
	}
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == "." || cleaned == ".." || filepath.IsAbs(cleaned) || filepath.VolumeName(cleaned) != "" {
		return "", false
	}
	if strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.Join(dest, cleaned), true
}

func isDirName(name string) bool {
	return strings.HasSuffix(name, "/") || strings.HasSuffix(name, "\\")
}

// writeFile はエントリの内容を target に書き出します。
func writeFile(target string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(target), err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(target), err)
	}
	return out.Close()
}

func nameDecoder(enc string) *encoding.Decoder {
	switch strings.ToLower(enc) {
	case "gb18030":
		return simplifiedchinese.GB18030.NewDecoder()
	case "shift_jis":
		return japanese.ShiftJIS.NewDecoder()
	default:
		return nil
	}
}

// decodeName はUTF-8でないエントリ名を設定された文字コードで復号します。
func decodeName(name string, nonUTF8 bool, enc string) string {
	if !nonUTF8 || utf8.ValidString(name) {
		return name
	}
	dec := nameDecoder(enc)
	if dec == nil {
		return name
	}
	decoded, err := dec.String(name)
	if err != nil {
		return name
	}
	return decoded
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
