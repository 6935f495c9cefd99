// Package content extracts structure from captured HTML responses:
// title, links, images, plain text, plus markdown conversion and
// sanitization for downstream pipelines.
package content

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed HTML response body.
type Document struct {
	root *html.Node
	base *url.URL
	raw  []byte
}

// Parse parses an HTML body. baseURL (the response's final URL) anchors
// relative link resolution; empty is allowed, AbsoluteLinks then returns
// links as written.
func Parse(body []byte, baseURL string) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("content: parse html: %w", err)
	}
	d := &Document{root: root, raw: body}
	if baseURL != "" {
		if u, err := url.Parse(baseURL); err == nil {
			d.base = u
		}
	}
	return d, nil
}

// Title returns the <title> text, trimmed.
func (d *Document) Title() string {
	var title string
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.DataAtom == atom.Title {
			if n.FirstChild != nil {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(d.root)
	return title
}

// Links returns every href of <a> elements, as written in the document.
func (d *Document) Links() []string {
	return d.collectAttr(atom.A, "href")
}

// AbsoluteLinks returns every link resolved against the document's base
// URL. Unresolvable entries are dropped.
func (d *Document) AbsoluteLinks() []string {
	links := d.Links()
	if d.base == nil {
		return links
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		ref, err := url.Parse(l)
		if err != nil {
			continue
		}
		out = append(out, d.base.ResolveReference(ref).String())
	}
	return out
}

// ImageLinks returns every src of <img> elements.
func (d *Document) ImageLinks() []string {
	return d.collectAttr(atom.Img, "src")
}

// Text returns the visible text of the document, scripts and styles
// excluded, with whitespace collapsed.
func (d *Document) Text() string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return sb.String()
}

func (d *Document) collectAttr(tag atom.Atom, attr string) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == tag {
			for _, a := range n.Attr {
				if a.Key == attr && a.Val != "" {
					out = append(out, a.Val)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return out
}

// Markdown converts an HTML fragment or document to markdown.
func Markdown(htmlSrc string) (string, error) {
	md, err := htmltomarkdown.ConvertString(htmlSrc)
	if err != nil {
		return "", fmt.Errorf("content: to markdown: %w", err)
	}
	return md, nil
}

// Sanitize strips scripts, event handlers and other active content from
// an HTML fragment, keeping user-generated formatting.
func Sanitize(htmlSrc string) string {
	return bluemonday.UGCPolicy().Sanitize(htmlSrc)
}
