package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var (
	spaceRun       = regexp.MustCompile(`[ \t]+`)
	spaceAroundNL  = regexp.MustCompile(` *\n *`)
	newlineRun     = regexp.MustCompile(`\n{3,}`)
	textWhitespace = regexp.MustCompile(`[ \t\r\n\f]+`)
)

// Clean normalizes extracted text: non-breaking spaces become spaces, line
// endings become LF, runs of spaces/tabs collapse to one space, spaces next to
// line breaks are dropped, three or more line breaks collapse to two, and the
// result is trimmed. Clean(Clean(s)) == Clean(s).
func Clean(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	s = spaceAroundNL.ReplaceAllString(s, "\n")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true,
	"figure": true, "footer": true, "form": true, "h1": true, "h2": true,
	"h3": true, "h4": true, "h5": true, "h6": true, "header": true, "hr": true,
	"li": true, "main": true, "nav": true, "ol": true, "section": true,
	"table": true, "tr": true, "ul": true,
}

var skippedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
}

// textWriter accumulates rendered text and tracks trailing line breaks so
// block boundaries never stack more breaks than needed.
type textWriter struct {
	b        strings.Builder
	trailing int
}

func (w *textWriter) text(s string) {
	s = textWhitespace.ReplaceAllString(s, " ")
	if s == "" || (s == " " && (w.trailing > 0 || w.b.Len() == 0)) {
		return
	}
	w.b.WriteString(s)
	w.trailing = 0
}

func (w *textWriter) breaks(n int) {
	if w.b.Len() == 0 {
		return
	}
	for w.trailing < n {
		w.b.WriteByte('\n')
		w.trailing++
	}
}

func (w *textWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.text(n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if skippedElements[n.Data] {
			return
		}
		if n.Data == "br" {
			w.b.WriteByte('\n')
			w.trailing++
			return
		}
	}

	gap := 0
	if n.Type == html.ElementNode {
		if n.Data == "p" {
			gap = 2
		} else if blockElements[n.Data] {
			gap = 1
		}
	}

	w.breaks(gap)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	w.breaks(gap)
}

// InnerText renders the text of the first node in sel roughly the way a
// browser's innerText does: block elements and <br> become line breaks,
// paragraphs are separated by a blank line, scripts and styles are skipped.
// The result is passed through Clean.
func InnerText(sel *goquery.Selection) string {
	if sel == nil || len(sel.Nodes) == 0 {
		return ""
	}
	var w textWriter
	w.walk(sel.Nodes[0])
	return Clean(w.b.String())
}
