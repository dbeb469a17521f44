package consolidate

import (
	"regexp"
	"strconv"
	"strings"
)

// Rule is one entry of the sub-part grammar. Pattern must define the named
// groups "parent" and "sub".
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rules is the sub-part suffix grammar, tried in order; the first match wins.
// Every parent ends in a digit, so a bare word ("Bonus") never decomposes.
//
//	parenthesized  Q3(a)  Q3 (b)  Q12(ii)  Q4(2)   → Q3, Q3, Q12, Q4
//	separated      Q3-a   Q3.b    Q3_c     Q12-ab  → Q3, Q3, Q3, Q12
//	separated num  Q3.1   Q3-2                     → Q3
//	letters        Q3a    Q12b    Q3ab     3c      → Q3, Q12, Q3, 3
//
// Identifiers that exactly match a rubric question are never decomposed, so
// a rubric that really has a question "3.1" keeps it whole.
var Rules = []Rule{
	{
		Name:    "parenthesized",
		Pattern: regexp.MustCompile(`^(?P<parent>.*\d)\s*\((?P<sub>[A-Za-z]+|\d+)\)$`),
	},
	{
		Name:    "separated",
		Pattern: regexp.MustCompile(`^(?P<parent>.*\d)[-_.](?P<sub>[A-Za-z]+|\d+)$`),
	},
	{
		Name:    "letters",
		Pattern: regexp.MustCompile(`^(?P<parent>.*\d)(?P<sub>[A-Za-z]+)$`),
	},
}

// Decompose splits a sub-part identifier into its parent question and
// sub-part label. ok is false when id has no sub-part suffix.
func Decompose(id string) (parent, sub string, ok bool) {
	id = strings.TrimSpace(id)
	for _, rule := range Rules {
		m := rule.Pattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		parent = strings.TrimSpace(m[rule.Pattern.SubexpIndex("parent")])
		sub = m[rule.Pattern.SubexpIndex("sub")]
		if parent == "" {
			continue
		}
		return parent, sub, true
	}
	return "", "", false
}

// subLess orders sub-part labels: the bare parent first, then numeric labels
// numerically, then letter labels by length and alphabet (a … z, aa, ab …).
func subLess(a, b string) bool {
	if a == b {
		return false
	}
	if a == "" || b == "" {
		return a == ""
	}
	an, aNum := atoi(a)
	bn, bNum := atoi(b)
	switch {
	case aNum && bNum:
		return an < bn
	case aNum != bNum:
		return aNum
	}
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if len(la) != len(lb) {
		return len(la) < len(lb)
	}
	return la < lb
}

func atoi(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	return n, err == nil
}
