package cmd

import (
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"unicode/utf8"
)

// FilenameDialect selects the set of filename rules applied to titles
type FilenameDialect string

// Filename dialects
const (
	DialectAuto    FilenameDialect = "auto"
	DialectWindows FilenameDialect = "windows"
	DialectPOSIX   FilenameDialect = "posix"
)

// maxTitleBytes keeps <id>_<title>.<ext> under the common 255 byte name limit
const maxTitleBytes = 200

var (
	windowsInvalidName  = regexp.MustCompile(`[^A-Za-z0-9_. ]+|^\.|\.$|^ | $|^$`)
	windowsReservedName = regexp.MustCompile(`(?i)^(aux|com[1-9]|con|lpt[1-9]|nul|prn)(\.|$)`)
	posixBlocked        = strings.NewReplacer(";", "", ":", "", "!", "", "*", "", "/", "", "\\", "", "\x00", "")
)

// ResolveDialect maps DialectAuto to the dialect of the host OS
func ResolveDialect(dialect FilenameDialect) FilenameDialect {
	if dialect != DialectAuto && dialect != "" {
		return dialect
	}
	if runtime.GOOS == "windows" {
		return DialectWindows
	}
	return DialectPOSIX
}

// CleanTitle makes a title safe to use as a file name in the given dialect
func CleanTitle(title string, dialect FilenameDialect) string {
	var cleaned string
	if ResolveDialect(dialect) == DialectWindows {
		cleaned = windowsInvalidName.ReplaceAllString(truncateTitle(title), "_")
		if windowsReservedName.MatchString(cleaned) {
			cleaned = "_" + cleaned
		}
		return cleaned
	}
	return truncateTitle(posixBlocked.Replace(title))
}

func truncateTitle(title string) string {
	if len(title) <= maxTitleBytes {
		return title
	}
	cut := maxTitleBytes
	for cut > 0 && !utf8.RuneStart(title[cut]) {
		cut--
	}
	return title[:cut]
}

// SanitizeFilename returns <dir>/<disambiguator><cleaned title>.<extension>.
// It is a pure function of its inputs.
func SanitizeFilename(title, extension, disambiguator, dir string, dialect FilenameDialect) string {
	name := disambiguator + CleanTitle(title, dialect)
	if extension != "" {
		name += "." + CleanTitle(extension, dialect)
	}
	return filepath.Join(dir, name)
}

// PathBuilder produces the target path of every attachment in a run.
// Each name is prefixed with the attachment id so titles never collide.
type PathBuilder struct {
	Dir     string
	Dialect FilenameDialect
	Suffix  string // appended after the extension, e.g. ".zst"
}

// Path returns the target path for one attachment
func (b PathBuilder) Path(id AttachmentID, title, extension string) string {
	return SanitizeFilename(title, extension, CleanTitle(string(id), b.Dialect)+"_", b.Dir, b.Dialect) + b.Suffix
}
