// Package mention holds the pure text rules that decide who a message
// addresses and how an agent reply is prefixed so routing stays visible
// without producing reply loops.
//
// Names are matched case-insensitively and returned lower-cased. A valid
// mention is an '@' at the start of the text or after a non-word character,
// followed by a name made of word characters joined by single '-' or '_'.
package mention

import (
	"regexp"
	"strings"
)

var (
	anywhereRe = regexp.MustCompile(`(?:^|[^\w@])@(\w+(?:[-_]\w+)*)`)
	leadingRe  = regexp.MustCompile(`^@(\w+(?:[-_]\w+)*)`)
)

// ExtractMentions returns the first valid mention in text, or nil. Only the
// first mention counts for routing, which is what keeps A→B→A chains from
// fanning out.
func ExtractMentions(text string) []string {
	m := anywhereRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	return []string{strings.ToLower(m[1])}
}

// ExtractParagraphLeadingMentions returns every mention that opens a line,
// deduplicated and in order of appearance.
func ExtractParagraphLeadingMentions(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(text, "\n") {
		name, _, ok := leading(strings.TrimLeft(line, " \t\r"))
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// IsMentioned reports whether name is the first mention in text.
func IsMentioned(text, name string) bool {
	for _, m := range ExtractMentions(text) {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// RemoveSelfMentions strips any run of leading @agentID tokens (and the
// separators after them) from text. Applying it twice gives the same result
// as applying it once.
func RemoveSelfMentions(text, agentID string) string {
	if agentID == "" {
		return text
	}
	out := text
	stripped := false
	for {
		trimmed := strings.TrimLeft(out, " \t\r\n")
		name, rest, ok := leading(trimmed)
		if !ok || !strings.EqualFold(name, agentID) {
			break
		}
		out = strings.TrimLeft(rest, ",:; \t\r\n")
		stripped = true
	}
	if !stripped {
		return text
	}
	return out
}

// AddAutoMention prefixes text with @sender unless text already opens with a
// mention of sender.
func AddAutoMention(text, sender string) string {
	if sender == "" {
		return text
	}
	if name, _, ok := leading(strings.TrimLeft(text, " \t\r\n")); ok && strings.EqualFold(name, sender) {
		return text
	}
	return "@" + sender + " " + text
}

// ShouldAutoMention reports whether a reply by agentID to sender carries no
// explicit addressee of its own. Self mentions do not count as addressees.
func ShouldAutoMention(text, sender, agentID string) bool {
	if sender == "" || strings.EqualFold(sender, agentID) {
		return false
	}
	return len(validLeading(text, agentID)) == 0
}

// ApplyAutoMention runs the reply pipeline in its fixed order: drop self
// mentions, look for an explicit redirect, and only when there is none and
// the trigger did not come from a human, address the reply back to the
// sender. Humans never receive an auto-mention.
func ApplyAutoMention(text, agentID, sender string, senderIsHuman bool) string {
	out := RemoveSelfMentions(text, agentID)
	if senderIsHuman {
		return out
	}
	if ShouldAutoMention(out, sender, agentID) {
		return AddAutoMention(out, sender)
	}
	return out
}

func validLeading(text, agentID string) []string {
	var out []string
	for _, name := range ExtractParagraphLeadingMentions(text) {
		if !strings.EqualFold(name, agentID) {
			out = append(out, name)
		}
	}
	return out
}

// leading parses a mention at the very start of s.
func leading(s string) (name, rest string, ok bool) {
	loc := leadingRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return "", s, false
	}
	return strings.ToLower(s[loc[2]:loc[3]]), s[loc[1]:], true
}
