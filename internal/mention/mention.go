// Package mention finds @handle references in chat text and resolves them
// against the live session snapshot.
package mention

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"confeed/pkg/types"
)

var handlePattern = regexp.MustCompile(`@([\p{L}\p{M}\p{N}_.#-]+)`)

// Normalize folds a handle or nickname to its matching key: lowercased, with
// combining marks stripped after canonical decomposition. Trailing dots and
// hyphens are dropped so "@maria." matches.
func Normalize(s string) string {
	s = strings.ToLower(s)

	folded, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		s,
	)
	if err != nil {
		folded = s
	}
	return strings.TrimRight(folded, ".-")
}

// ExtractMentions returns the set of normalized handles referenced in text.
// A handle carrying a '#suffix' contributes both its full form, which matches
// nicknames such as "anonimo#2", and the part before '#', which matches plain
// nicknames with the suffix discarded.
func ExtractMentions(text string) map[string]struct{} {
	handles := make(map[string]struct{})
	for _, match := range handlePattern.FindAllStringSubmatch(text, -1) {
		handle := Normalize(match[1])
		base, _, hasSuffix := strings.Cut(handle, "#")
		if base == "" {
			continue
		}
		handles[base] = struct{}{}
		if hasSuffix {
			handles[handle] = struct{}{}
		}
	}
	return handles
}

// ResolveTargets returns the ids of live sessions whose normalized nickname is
// one of handles. Distinct sessions sharing a nickname are all included; each
// id appears once.
func ResolveTargets(handles map[string]struct{}, live []types.Participant) []string {
	if len(handles) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var targets []string
	for _, p := range live {
		if _, ok := handles[Normalize(p.Nickname)]; !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		targets = append(targets, p.ID)
	}
	return targets
}
