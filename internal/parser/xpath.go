package parser

import (
	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// xpathFind evaluates an XPath expression relative to each node of root and
// returns the matches as a goquery selection. An invalid expression matches
// nothing.
func (e *Extractor) xpathFind(root *goquery.Selection, expr string) *goquery.Selection {
	var found []*html.Node
	for _, n := range root.Nodes {
		nodes, err := htmlquery.QueryAll(n, expr)
		if err != nil {
			e.logger.Warn("invalid xpath", "expr", expr, "error", err)
			return root.FindNodes()
		}
		found = append(found, nodes...)
	}
	if len(found) == 0 {
		return root.FindNodes()
	}
	return goquery.NewDocumentFromNode(found[0]).Selection.AddNodes(found[1:]...)
}
