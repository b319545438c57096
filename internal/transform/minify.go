package transform

import (
	"context"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"
)

const (
	mediaHTML = "text/html"
	mediaCSS  = "text/css"
	mediaJS   = "application/javascript"
	mediaSVG  = "image/svg+xml"
)

// NewMinifier registers the HTML, CSS, JS and SVG minifiers. The HTML
// minifier collapses whitespace but keeps document tags, end tags and
// attribute quotes so the output stays valid for hand-written markup.
func NewMinifier() *minify.M {
	m := minify.New()
	m.Add(mediaHTML, &html.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc(mediaCSS, css.Minify)
	m.AddFunc(mediaJS, js.Minify)
	m.AddFunc(mediaSVG, svg.Minify)
	return m
}

// Minify minifies files whose extension is in exts as mediatype. Other
// files pass through, so a markup stage can minify .html and copy .php.
func Minify(m *minify.M, mediatype string, exts ...string) Step {
	return stepFunc{name: "minify-" + minifyLabel(mediatype), fn: func(_ context.Context, f *File) (*File, error) {
		if !hasExt(f, exts) {
			return f, nil
		}
		data, err := m.Bytes(mediatype, f.Data)
		if err != nil {
			return nil, err
		}
		out := *f
		out.Data = data
		return &out, nil
	}}
}

func minifyLabel(mediatype string) string {
	switch mediatype {
	case mediaHTML:
		return "html"
	case mediaCSS:
		return "css"
	case mediaJS:
		return "js"
	case mediaSVG:
		return "svg"
	default:
		return mediatype
	}
}
