package utils

import (
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// NormalizeFileName turns an uploaded file name into its canonical display form.
// Browsers and some multipart encoders send raw bytes that are not valid UTF-8;
// those are decoded as ISO-8859-1. Valid names that are really UTF-8 read as
// ISO-8859-1 are repaired. The result is NFC-normalized and stripped of
// any directory component.
func NormalizeFileName(raw string) string {
	name := raw
	if !utf8.ValidString(name) {
		if decoded, err := charmap.ISO8859_1.NewDecoder().String(name); err == nil {
			name = decoded
		}
	} else {
		name = RecoverUTF8(name)
	}

	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.TrimSpace(norm.NFC.String(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// RecoverUTF8 undoes the classic mojibake where UTF-8 bytes were read as
// ISO-8859-1 characters ("Ã¥" for "å"). Names that do not round-trip are returned
// unchanged.
func RecoverUTF8(name string) string {
	encoded, err := charmap.ISO8859_1.NewEncoder().String(name)
	if err != nil || encoded == name || !utf8.ValidString(encoded) {
		return name
	}
	return norm.NFC.String(encoded)
}
