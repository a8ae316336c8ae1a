// Package pathguard validates and normalizes path-like strings before they
// reach a native shell operation or a backend request body.
package pathguard

import (
	"path"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind describes what the caller intends to do with the path.
type Kind int

const (
	InputFile Kind = iota
	OutputFile
	Directory
)

func (k Kind) String() string {
	switch k {
	case InputFile:
		return "input-file"
	case OutputFile:
		return "output-file"
	case Directory:
		return "directory"
	}
	return "unknown"
}

// ParseKind maps the textual kind names used by the CLI to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "input-file", "input", "file":
		return InputFile, true
	case "output-file", "output":
		return OutputFile, true
	case "directory", "dir":
		return Directory, true
	}
	return 0, false
}

// Context is the validation context of a single call.
type Context struct {
	Kind Kind
	// Native is set when the path is handed to a "reveal in file manager" or
	// "open externally" call.
	Native bool
	// AllowNetwork opts a native call into UNC/remote paths.
	AllowNetwork bool
}

const (
	defaultMaxLength = 4096
	windowsMaxLength = 260
)

// DefaultDeniedDirs are the system roots no path may resolve under.
var DefaultDeniedDirs = []string{
	"/etc",
	"/root",
	"/bin",
	"/sbin",
	"/boot",
	"/dev",
	"/proc",
	"/sys",
	"/usr/bin",
	"/usr/sbin",
	"/usr/lib",
	"/usr/libexec",
	"/var/root",
	"/private/etc",
	"/private/var/root",
	"/System",
	"/Library",
	"C:/Windows",
	"C:/Program Files",
	"C:/Program Files (x86)",
	"C:/ProgramData",
	"C:/Users/Administrator",
	"C:/Users/Default",
	"C:/Users/All Users",
}

// Options configures a Guard.
type Options struct {
	// DeniedDirs replaces DefaultDeniedDirs when non-nil.
	DeniedDirs []string
	// ExtraDeniedDirs is appended to the effective denylist.
	ExtraDeniedDirs []string
	// MaxLength overrides the platform ceiling when positive.
	MaxLength int
	// AllowNetwork lets every native call accept network paths.
	AllowNetwork bool
}

// Guard is a configured validator. The zero value is not usable; use New.
type Guard struct {
	denied       []string
	maxLength    int
	allowNetwork bool
}

// New builds a Guard from opts.
func New(opts Options) *Guard {
	base := opts.DeniedDirs
	if base == nil {
		base = DefaultDeniedDirs
	}
	denied := make([]string, 0, len(base)+len(opts.ExtraDeniedDirs))
	for _, d := range append(append([]string{}, base...), opts.ExtraDeniedDirs...) {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		denied = append(denied, normalize(d))
	}
	return &Guard{denied: denied, maxLength: opts.MaxLength, allowNetwork: opts.AllowNetwork}
}

var defaultGuard = New(Options{})

// Validate runs the default Guard.
func Validate(p string, ctx Context) (string, error) {
	return defaultGuard.Validate(p, ctx)
}

// Validate applies the rules in order and returns the normalized path or the
// first *ValidationError. It has no side effects.
func (g *Guard) Validate(raw string, ctx Context) (string, error) {
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", newError(CodeEmptyPath, raw, "path is empty")
	}
	if hasTraversal(p) {
		return "", newError(CodePathTraversal, raw, "path contains a parent-directory segment")
	}
	if r, ok := unsafeSequence(p); ok {
		return "", newError(CodeUnsafeCharacters, raw, "path contains "+r)
	}

	normalized := normalize(p)

	if dir, ok := g.deniedRoot(normalized); ok {
		return "", newError(CodeSystemDirectoryDenied, raw, "path is inside "+dir)
	}
	if ctx.Native && !ctx.AllowNetwork && !g.allowNetwork && isNetworkPath(p) {
		return "", newError(CodeNetworkPathDenied, raw, "network paths cannot be opened natively")
	}
	if limit := g.limitFor(normalized); utf8.RuneCountInString(normalized) > limit {
		return "", newError(CodePathTooLong, raw, "path exceeds the platform length limit")
	}
	return normalized, nil
}

var driveLetter = regexp.MustCompile(`^[A-Za-z]:(/|$)`)

func isDrivePath(p string) bool {
	return driveLetter.MatchString(p)
}

func (g *Guard) limitFor(normalized string) int {
	if g.maxLength > 0 {
		return g.maxLength
	}
	if isDrivePath(normalized) {
		return windowsMaxLength
	}
	return defaultMaxLength
}

// deniedRoot checks normalized and, for a "//host/..." form, its POSIX
// reading as well, since a POSIX system resolves "//etc" to "/etc".
func (g *Guard) deniedRoot(normalized string) (string, bool) {
	candidates := []string{normalized}
	if strings.HasPrefix(normalized, "//") {
		candidates = append(candidates, "/"+strings.TrimLeft(normalized, "/"))
	}
	for _, c := range candidates {
		if !isAbsolute(c) {
			continue
		}
		for _, dir := range g.denied {
			if underDir(c, dir) {
				return dir, true
			}
		}
	}
	return "", false
}

func isAbsolute(p string) bool {
	return strings.HasPrefix(p, "/") || isDrivePath(p)
}

// underDir reports whether p equals dir or lies below it. Drive-letter
// paths compare case-insensitively.
func underDir(p, dir string) bool {
	if isDrivePath(dir) {
		p, dir = strings.ToLower(p), strings.ToLower(dir)
	}
	if p == dir {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}

var networkScheme = regexp.MustCompile(`^(?i)(smb|cifs|nfs|afp|ftp|sftp|webdav|dav|http|https)://`)

func isNetworkPath(p string) bool {
	s := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(strings.ToUpper(s), "//?/UNC/") {
		return true
	}
	if strings.HasPrefix(s, "//?/") {
		return false
	}
	return strings.HasPrefix(s, "//") || networkScheme.MatchString(s)
}

// normalize canonicalizes separators to '/', drops '.' segments and
// duplicate separators, and keeps UNC and scheme prefixes intact. The input
// must already be free of '..' segments.
func normalize(p string) string {
	s := strings.ReplaceAll(p, `\`, "/")
	if strings.HasPrefix(s, "//?/") && !strings.HasPrefix(strings.ToUpper(s), "//?/UNC/") {
		s = s[len("//?/"):]
	}
	if strings.HasPrefix(s, "///") {
		// Three or more leading slashes mean the root.
		s = "/" + strings.TrimLeft(s, "/")
	}

	prefix := ""
	if m := networkScheme.FindString(s); m != "" {
		prefix, s = m, s[len(m):]
	} else if strings.HasPrefix(strings.ToUpper(s), "//?/UNC/") {
		prefix, s = "//", s[len("//?/UNC/"):]
	} else if strings.HasPrefix(s, "//") {
		prefix, s = "//", strings.TrimLeft(s, "/")
	}
	if prefix != "" {
		return prefix + strings.TrimPrefix(path.Clean("/"+s), "/")
	}

	cleaned := path.Clean(s)
	if len(cleaned) == 2 && cleaned[1] == ':' && len(s) > 2 {
		// "C:/" cleans to "C:", which means the drive's working directory.
		cleaned += "/"
	}
	return cleaned
}

// SafeFileName strips characters that cannot appear in a file name on
// Windows, macOS or Linux and avoids reserved device names. Use it for
// single path components, never for full paths.
func SafeFileName(name string) string {
	if name == "" {
		return ""
	}
	safe := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	safe = invalidNameChars.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, " .")
	safe = repeatedDashes.ReplaceAllString(safe, "-")
	safe = strings.Trim(safe, "-")

	if reservedNames[strings.ToUpper(safe)] {
		safe += "_"
	}
	if safe == "" {
		safe = "untitled"
	}
	return safe
}

var (
	invalidNameChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	repeatedDashes   = regexp.MustCompile(`-+`)
	reservedNames    = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)
