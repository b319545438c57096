package transform

import (
	"bytes"
	"context"
	"regexp"
	"sort"
	"strings"
)

// vendorPrefixes lists the properties that still need prefixed fallbacks for
// the browsers the default build targets.
var vendorPrefixes = map[string][]string{
	"appearance":           {"-webkit-", "-moz-"},
	"backdrop-filter":      {"-webkit-"},
	"box-decoration-break": {"-webkit-"},
	"hyphens":              {"-webkit-", "-ms-"},
	"mask-image":           {"-webkit-"},
	"tab-size":             {"-moz-"},
	"text-size-adjust":     {"-webkit-", "-moz-", "-ms-"},
	"user-select":          {"-webkit-", "-moz-", "-ms-"},
}

var declRe = regexp.MustCompile(`(?m)(^|[{;])([ \t]*)(` + propertyAlternation() + `)(\s*:)([^;}\n]*)`)

func propertyAlternation() string {
	props := make([]string, 0, len(vendorPrefixes))
	for p := range vendorPrefixes {
		props = append(props, regexp.QuoteMeta(p))
	}
	// Longest first so that no property shadows another sharing its prefix.
	sort.Slice(props, func(i, j int) bool {
		if len(props[i]) != len(props[j]) {
			return len(props[i]) > len(props[j])
		}
		return props[i] < props[j]
	})
	return strings.Join(props, "|")
}

// Prefix inserts vendor-prefixed copies before each declaration of a
// property listed in vendorPrefixes. A prefixed copy the same block already
// declares is not added again. Non-CSS files pass through.
func Prefix() Step {
	return stepFunc{name: "prefix", fn: func(_ context.Context, f *File) (*File, error) {
		if f.Ext() != ".css" {
			return f, nil
		}
		out := *f
		out.Data = prefixCSS(f.Data)
		return &out, nil
	}}
}

func prefixCSS(src []byte) []byte {
	matches := declRe.FindAllSubmatchIndex(src, -1)
	if len(matches) == 0 {
		return src
	}

	var b strings.Builder
	b.Grow(len(src) + len(matches)*32)
	last := 0
	for _, m := range matches {
		lead := string(src[m[2]:m[3]])
		indent := string(src[m[4]:m[5]])
		prop := string(src[m[6]:m[7]])
		colon := string(src[m[8]:m[9]])
		value := string(src[m[10]:m[11]])

		sep := ""
		if indent != "" {
			sep = "\n" + indent
		}

		b.Write(src[last:m[0]])
		b.WriteString(lead)
		b.WriteString(indent)
		block := enclosingBlock(src, m[0], m[1])
		for _, vp := range vendorPrefixes[prop] {
			if declares(block, vp+prop) {
				continue
			}
			b.WriteString(vp + prop + colon + strings.TrimRight(value, " \t") + ";" + sep)
		}
		b.WriteString(prop + colon + value)
		last = m[1]
	}
	b.Write(src[last:])
	return []byte(b.String())
}

// enclosingBlock returns the declaration block around src[start:end], without
// its braces.
func enclosingBlock(src []byte, start, end int) []byte {
	lo := bytes.LastIndexByte(src[:start], '{') + 1
	hi := bytes.IndexByte(src[end:], '}')
	if hi < 0 {
		return src[lo:]
	}
	return src[lo : end+hi]
}

// declares reports whether block holds a declaration of property name.
func declares(block []byte, name string) bool {
	for i := 0; ; {
		j := bytes.Index(block[i:], []byte(name))
		if j < 0 {
			return false
		}
		at := i + j
		i = at + len(name)
		if at > 0 && !strings.ContainsRune("{; \t\n\r", rune(block[at-1])) {
			continue
		}
		rest := bytes.TrimLeft(block[i:], " \t")
		if len(rest) > 0 && rest[0] == ':' {
			return true
		}
	}
}
