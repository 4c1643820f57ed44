// Package safeio reads project files whose encoding is not known up front.
//
// Power BI Desktop writes UTF-8, but hand-edited or older files show up as
// UTF-8 with a BOM, UTF-16 or Windows-1252. A file is decoded with the first
// encoding that fits and re-encoded the same way when it is written back.
package safeio

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names the byte encoding a file was decoded from.
type Encoding string

const (
	UTF8        Encoding = "utf-8"
	UTF8BOM     Encoding = "utf-8-bom"
	UTF16LE     Encoding = "utf-16le"
	UTF16BE     Encoding = "utf-16be"
	Windows1252 Encoding = "windows-1252"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// ErrUndecodable is returned when no fallback encoding produces clean text.
var ErrUndecodable = errors.New("file is not valid text in any supported encoding")

// File is a decoded file.
type File struct {
	// Raw holds the bytes exactly as read; backups are written from it.
	Raw      []byte
	Text     string
	Encoding Encoding
}

// ReadFile reads and decodes path.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Decode tries each supported encoding in turn.
func Decode(raw []byte) (*File, error) {
	switch {
	case bytes.HasPrefix(raw, bomUTF8):
		body := raw[len(bomUTF8):]
		if !utf8.Valid(body) {
			return nil, ErrUndecodable
		}
		return &File{Raw: raw, Text: string(body), Encoding: UTF8BOM}, nil
	case bytes.HasPrefix(raw, bomUTF16LE):
		return decodeWith(raw, UTF16LE)
	case bytes.HasPrefix(raw, bomUTF16BE):
		return decodeWith(raw, UTF16BE)
	}

	if bytes.IndexByte(raw, 0) >= 0 {
		return nil, ErrUndecodable
	}
	if utf8.Valid(raw) {
		return &File{Raw: raw, Text: string(raw), Encoding: UTF8}, nil
	}
	return decodeWith(raw, Windows1252)
}

func decodeWith(raw []byte, enc Encoding) (*File, error) {
	text, err := codec(enc).NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	s := string(text)
	if strings.ContainsRune(s, utf8.RuneError) {
		return nil, ErrUndecodable
	}
	return &File{Raw: raw, Text: s, Encoding: enc}, nil
}

// Encode converts text back to the file's original encoding.
func (f *File) Encode(text string) ([]byte, error) {
	return EncodeAs(text, f.Encoding)
}

// EncodeAs converts text to enc.
func EncodeAs(text string, enc Encoding) ([]byte, error) {
	switch enc {
	case UTF8, "":
		return []byte(text), nil
	case UTF8BOM:
		return append(append([]byte{}, bomUTF8...), text...), nil
	}
	out, err := codec(enc).NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("encode as %s: %w", enc, err)
	}
	return out, nil
}

func codec(enc Encoding) encoding.Encoding {
	switch enc {
	case UTF16LE:
		return unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM)
	case UTF16BE:
		return unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
	case Windows1252:
		return charmap.Windows1252
	default:
		return unicode.UTF8
	}
}
