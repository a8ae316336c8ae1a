package pathguard

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// lookalikes maps separators and dots that NFKC leaves alone onto their
// ASCII forms. Fullwidth forms, one/two dot leaders and small full stops
// are already folded by NFKC.
var lookalikes = strings.NewReplacer(
	"∕", "/", // division slash
	"⁄", "/", // fraction slash
	"⧸", "/", // big solidus
	"╱", "/", // box drawings light diagonal upper right to lower left
	"∖", `\`, // set minus
	"⧹", `\`, // big reverse solidus
	"╲", `\`, // box drawings light diagonal upper left to lower right
	"。", ".", // ideographic full stop
	"·", ".", // middle dot
	"∙", ".", // bullet operator
)

// fold maps Unicode look-alikes onto ASCII so they are inspected the way a
// permissive consumer might interpret them.
func fold(s string) string {
	return lookalikes.Replace(norm.NFKC.String(s))
}

// variants returns every spelling of p a downstream consumer could decode:
// the raw form, the folded form and up to three rounds of percent-decoding
// of each.
func variants(p string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, base := range []string{p, fold(p)} {
		cur := base
		add(cur)
		for i := 0; i < 3; i++ {
			dec, err := url.PathUnescape(cur)
			if err != nil || dec == cur {
				break
			}
			cur = dec
			add(cur)
			add(fold(cur))
		}
	}
	return out
}

func hasTraversal(p string) bool {
	for _, v := range variants(p) {
		for _, seg := range strings.FieldsFunc(v, isSeparator) {
			// Windows ignores trailing spaces on a path component.
			if strings.TrimRight(seg, " ") == ".." {
				return true
			}
		}
	}
	return false
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

var shellSequences = []string{";", "&&", "|", "`", "$("}

// unsafeSequence reports the first shell metacharacter or control byte
// found in p or in its folded and decoded forms.
func unsafeSequence(p string) (string, bool) {
	if strings.Contains(strings.ToLower(p), "%00") {
		return "an encoded NUL byte", true
	}
	for _, v := range []string{p, fold(p)} {
		for _, seq := range shellSequences {
			if strings.Contains(v, seq) {
				return "the shell sequence " + `"` + seq + `"`, true
			}
		}
		for _, r := range v {
			if unicode.IsControl(r) {
				return "a control character", true
			}
		}
	}
	return "", false
}
