package overwrite

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// FileName composes the artifact name for a variant suffix and source stem.
// Downstream clients select variants by this exact pattern.
func FileName(suffix, stem string) string {
	return "Overwrite" + suffix + "-" + stem + ".conf"
}

// DownloadURL builds the link to the processed source document embedded in
// every artifact: {base}/processed_configs/{sourceType}/{category}/{filename}.
// Backslashes are always rewritten to forward slashes.
func DownloadURL(base, sourceType, category, filename string) string {
	base = strings.TrimRight(base, `/\`)
	u := base + "/processed_configs/" + sourceType + "/" + category + "/" + filename
	return strings.ReplaceAll(u, `\`, "/")
}

// NormalizeRepoURL validates the base repository URL and converts an
// internationalised host to its ASCII form. Trailing slashes are removed.
func NormalizeRepoURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("repo url is empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse repo url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("repo url %q must be absolute (scheme://host/...)", raw)
	}
	host := u.Hostname()
	if !isASCII(host) {
		ascii, err := idna.Lookup.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("repo url host %q: %w", host, err)
		}
		if p := u.Port(); p != "" {
			u.Host = ascii + ":" + p
		} else {
			u.Host = ascii
		}
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

// Source identifies one input document inside a category directory.
type Source struct {
	Category string
	// Path is the filesystem path of the source file.
	Path string
	// RelPath is the slash-separated path relative to the category directory.
	RelPath string
	// Stem is the file name without extension.
	Stem string
}

// Label normalises a category or file label to NFC.
func Label(s string) string {
	return norm.NFC.String(s)
}

// NewSource derives a Source from the category name, the category directory
// and the file path. Labels are normalised to NFC so that names coming from
// NFD filesystems map to the same artifact paths.
func NewSource(category, categoryDir, file string) Source {
	rel, err := filepath.Rel(categoryDir, file)
	if err != nil {
		rel = filepath.Base(file)
	}
	rel = Label(filepath.ToSlash(rel))
	base := path.Base(rel)
	return Source{
		Category: Label(category),
		Path:     file,
		RelPath:  rel,
		Stem:     strings.TrimSuffix(base, path.Ext(base)),
	}
}
