package core

import (
	"fmt"
	"strings"
)

// Category is an asset category. The set is fixed at build time.
type Category string

const (
	CategoryMarkup        Category = "markup"
	CategoryTemplates     Category = "templates"
	CategoryStyles        Category = "styles"
	CategoryScripts       Category = "scripts"
	CategoryImages        Category = "images"
	CategoryMiscellaneous Category = "miscellaneous"
)

// AllCategories lists every category in declaration order.
func AllCategories() []Category {
	return []Category{
		CategoryMarkup,
		CategoryTemplates,
		CategoryStyles,
		CategoryScripts,
		CategoryImages,
		CategoryMiscellaneous,
	}
}

// ParseCategory maps a name to a Category. "misc" is accepted as shorthand.
func ParseCategory(raw string) (Category, error) {
	n := strings.ToLower(strings.TrimSpace(raw))
	if n == "misc" {
		return CategoryMiscellaneous, nil
	}
	for _, c := range AllCategories() {
		if string(c) == n {
			return c, nil
		}
	}
	return "", ConfigErrorf("unknown category %q", raw)
}

func (c Category) String() string { return string(c) }

// Variant selects the preview (live, unminified) or build (minified) pipeline.
type Variant string

const (
	VariantPreview Variant = "preview"
	VariantBuild   Variant = "build"
)

// AllVariants lists both variants.
func AllVariants() []Variant {
	return []Variant{VariantPreview, VariantBuild}
}

// ParseVariant maps a name to a Variant.
func ParseVariant(raw string) (Variant, error) {
	switch Variant(strings.ToLower(strings.TrimSpace(raw))) {
	case VariantPreview:
		return VariantPreview, nil
	case VariantBuild:
		return VariantBuild, nil
	default:
		return "", fmt.Errorf("unknown variant %q (expected preview|build)", raw)
	}
}

func (v Variant) String() string { return string(v) }
