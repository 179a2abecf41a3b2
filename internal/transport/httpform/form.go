package httpform

import (
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlForm is a form discovered on a page with its pre-filled values.
type htmlForm struct {
	action string
	method string
	values url.Values
}

// findForm returns the first form containing an input named field, or nil.
func findForm(page, field string) (*htmlForm, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, err
	}

	var found *htmlForm
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Form {
			f, hasField := collectForm(n, field)
			if hasField {
				found = f
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return found, nil
}

// collectForm gathers the successful controls of a form element and
// reports whether one of them is named field.
func collectForm(form *html.Node, field string) (*htmlForm, bool) {
	f := &htmlForm{
		action: attr(form, "action"),
		method: strings.ToUpper(attr(form, "method")),
		values: url.Values{},
	}
	if f.method != http.MethodGet {
		f.method = http.MethodPost
	}

	hasField := false
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			name := attr(n, "name")
			switch n.DataAtom {
			case atom.Input:
				if name == field {
					hasField = true
				}
				if name != "" && includeInput(n) {
					f.values.Add(name, attr(n, "value"))
				}
			case atom.Textarea:
				if name != "" {
					f.values.Add(name, text(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)

	return f, hasField
}

// includeInput reports whether an input contributes to the submitted form.
func includeInput(n *html.Node) bool {
	switch strings.ToLower(attr(n, "type")) {
	case "submit", "button", "image", "reset", "file":
		return false
	case "checkbox", "radio":
		return hasAttr(n, "checked")
	default:
		return true
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func text(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}
