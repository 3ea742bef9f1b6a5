// XHTML sanitization for the native EPUB engine. Web markup is reduced to
// the element and attribute subset EPUB 3 readers accept and rendered with
// self-closing void elements.
package main

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type verdict int

const (
	keep verdict = iota
	drop
	unwrap
)

var allowedElements = atomSet(
	atom.Div, atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
	atom.Ul, atom.Ol, atom.Li, atom.Dl, atom.Dt, atom.Dd, atom.Address, atom.Hr,
	atom.Pre, atom.Blockquote, atom.Cite, atom.Em, atom.Strong, atom.Small, atom.S,
	atom.Dfn, atom.Abbr, atom.Data, atom.Time, atom.Code, atom.Var, atom.Samp,
	atom.Kbd, atom.Sub, atom.Sup, atom.I, atom.B, atom.U, atom.Mark, atom.Ruby,
	atom.Rt, atom.Rp, atom.Bdi, atom.Bdo, atom.Span, atom.Br, atom.Wbr, atom.Ins,
	atom.Del, atom.Img, atom.Table, atom.Caption, atom.Colgroup, atom.Col,
	atom.Tbody, atom.Thead, atom.Tfoot, atom.Tr, atom.Td, atom.Th, atom.Section,
	atom.Article, atom.Aside, atom.Header, atom.Footer, atom.Main, atom.Figure,
	atom.Figcaption, atom.Nav, atom.A,
)

// Elements whose content is never readable text.
var droppedElements = atomSet(
	atom.Script, atom.Style, atom.Noscript, atom.Iframe, atom.Object, atom.Embed,
	atom.Form, atom.Input, atom.Button, atom.Select, atom.Textarea, atom.Svg,
	atom.Math, atom.Canvas, atom.Template, atom.Link, atom.Meta, atom.Head,
	atom.Title, atom.Source, atom.Track,
)

var phrasingElements = atomSet(
	atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.P,
	atom.Span, atom.B, atom.Strong, atom.I, atom.Em, atom.A, atom.Code, atom.Samp,
	atom.Kbd, atom.Var, atom.Sub, atom.Sup, atom.Small, atom.S, atom.U, atom.Mark,
	atom.Abbr, atom.Dfn, atom.Cite, atom.Del, atom.Ins, atom.Bdi, atom.Bdo,
	atom.Time, atom.Data,
)

var blockElements = atomSet(
	atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
	atom.Ul, atom.Ol, atom.Li, atom.Dl, atom.Dt, atom.Dd, atom.Blockquote,
	atom.Section, atom.Article, atom.Aside, atom.Header, atom.Footer, atom.Main,
	atom.Figure, atom.Figcaption, atom.Nav, atom.Table, atom.Pre, atom.Hr,
	atom.Address,
)

// Blocks with internal structure; these are moved, not unwrapped.
var structuralBlocks = atomSet(
	atom.Table, atom.Pre, atom.Ul, atom.Ol, atom.Dl, atom.Blockquote, atom.Figure,
)

var dimensionElements = atomSet(atom.Img, atom.Td, atom.Th, atom.Col, atom.Colgroup, atom.Table)

var allowedAttrs = map[string]bool{
	"id": true, "class": true, "style": true, "title": true, "lang": true, "dir": true,
	"href": true, "src": true, "alt": true, "width": true, "height": true,
	"colspan": true, "rowspan": true, "scope": true, "headers": true,
	"cite": true, "datetime": true, "value": true, "type": true,
	"rel": true, "start": true, "reversed": true, "epub:type": true,
}

var voidElements = atomSet(
	atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img,
	atom.Input, atom.Link, atom.Meta, atom.Source, atom.Wbr,
)

func atomSet(atoms ...atom.Atom) map[atom.Atom]bool {
	m := make(map[atom.Atom]bool, len(atoms))
	for _, a := range atoms {
		m[a] = true
	}
	return m
}

type xhtmlSanitizer struct {
	ids  map[string]bool // ids present in the source, for fragment links
	used map[string]bool // ids already emitted
}

// sanitizeXHTML cleans the children of root in place and renders them as
// XHTML.
func sanitizeXHTML(root *html.Node) string {
	s := &xhtmlSanitizer{ids: map[string]bool{}, used: map[string]bool{}}
	s.collectIDs(root)
	s.cleanChildren(root)

	var buf bytes.Buffer
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		renderXHTML(&buf, c)
	}
	return buf.String()
}

func (s *xhtmlSanitizer) collectIDs(n *html.Node) {
	if n.Type == html.ElementNode {
		if id := sanitizeID(attr(n, "id")); id != "" {
			s.ids[id] = true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		s.collectIDs(c)
	}
}

func (s *xhtmlSanitizer) cleanChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		if sub := substitute(c); sub != c {
			if sub != nil {
				n.InsertBefore(sub, c)
			}
			next := c.NextSibling
			n.RemoveChild(c)
			if sub == nil {
				c = next
			} else {
				c = sub
			}
			continue
		}

		switch judge(c) {
		case drop:
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		case unwrap:
			first, next := c.FirstChild, c.NextSibling
			moveChildrenBefore(c, c)
			n.RemoveChild(c)
			if first != nil {
				c = first
			} else {
				c = next
			}
		default:
			s.cleanNode(c)
			c = c.NextSibling
		}
	}
}

// substitute swaps media elements for a link and <picture> for its <img>.
// It returns n itself when nothing changes.
func substitute(n *html.Node) *html.Node {
	if n.Type != html.ElementNode {
		return n
	}
	switch n.DataAtom {
	case atom.Video, atom.Audio:
		src := attr(n, "src")
		for c := n.FirstChild; c != nil && src == ""; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Source {
				src = attr(c, "src")
			}
		}
		if src == "" {
			return nil
		}
		link := &html.Node{
			Type: html.ElementNode, DataAtom: atom.A, Data: "a",
			Attr: []html.Attribute{{Key: "href", Val: src}},
		}
		link.AppendChild(textNode("[Media: " + src + "]"))
		return link
	case atom.Picture:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.DataAtom == atom.Img {
				n.RemoveChild(c)
				return c
			}
		}
		return nil
	}
	return n
}

func judge(n *html.Node) verdict {
	switch n.Type {
	case html.TextNode:
		n.Data = stripInvalidXMLChars(n.Data)
		return keep
	case html.ElementNode:
	default:
		return drop
	}

	switch {
	case droppedElements[n.DataAtom]:
		return drop
	case n.DataAtom == atom.Img:
		src := strings.ToLower(strings.TrimSpace(attr(n, "src")))
		// Remote resources are not allowed inside the package.
		if src == "" || strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			return drop
		}
		return keep
	case allowedElements[n.DataAtom]:
		return keep
	}
	return unwrap
}

func (s *xhtmlSanitizer) cleanNode(n *html.Node) {
	if n.Type != html.ElementNode {
		return
	}
	n.Attr = s.filterAttrs(n)
	s.cleanChildren(n)

	switch {
	case phrasingElements[n.DataAtom]:
		liftBlocks(n)
	case n.DataAtom == atom.Dl:
		fixDefinitionList(n)
	case n.DataAtom == atom.Figcaption && (n.Parent == nil || n.Parent.DataAtom != atom.Figure):
		n.DataAtom, n.Data = atom.P, "p"
	}
}

func (s *xhtmlSanitizer) filterAttrs(n *html.Node) []html.Attribute {
	var out []html.Attribute
	for _, a := range n.Attr {
		if a.Namespace != "" || !allowedAttrs[a.Key] {
			continue
		}
		a.Val = stripInvalidXMLChars(a.Val)

		switch a.Key {
		case "src":
			if n.DataAtom != atom.Img {
				continue
			}
		case "href":
			if frag, ok := strings.CutPrefix(a.Val, "#"); ok && frag != "" && !s.ids[frag] {
				continue
			}
		case "id":
			id := sanitizeID(a.Val)
			if id == "" {
				continue
			}
			for i := 2; s.used[id]; i++ {
				id = fmt.Sprintf("%s-%d", sanitizeID(a.Val), i)
			}
			s.used[id] = true
			a.Val = id
		case "width", "height":
			if !dimensionElements[n.DataAtom] {
				continue
			}
			v := sanitizeDimension(a.Val)
			if v == "" || v == "0" {
				continue
			}
			a.Val = v
		}
		out = append(out, a)
	}
	return out
}

// liftBlocks repairs block content inside a phrasing element. Structural
// blocks move in front of the outermost phrasing ancestor; plain wrappers
// are unwrapped in place.
func liftBlocks(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.ElementNode || !blockElements[c.DataAtom] {
			c = next
			continue
		}

		if structuralBlocks[c.DataAtom] {
			target := n
			for target.Parent != nil && target.Parent.Type == html.ElementNode && phrasingElements[target.Parent.DataAtom] {
				target = target.Parent
			}
			if target.Parent != nil {
				n.RemoveChild(c)
				target.Parent.InsertBefore(c, target)
			}
		} else {
			moveChildrenBefore(c, c)
			n.RemoveChild(c)
		}
		c = next
	}
}

// fixDefinitionList makes a <dl> hold dt/dd groups: stray content is
// wrapped, a dd never precedes the first dt and a trailing dt gets a dd.
func fixDefinitionList(dl *html.Node) {
	for c := dl.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.TextNode && strings.TrimSpace(c.Data) != "":
			wrapIn(c, atom.Dt)
		case c.Type == html.ElementNode && c.DataAtom != atom.Dt && c.DataAtom != atom.Dd && c.DataAtom != atom.Div:
			wrapIn(c, atom.Dd)
		}
		c = next
	}

	seenDt, openDt, seenDd := false, false, false
	for c := dl.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		switch c.DataAtom {
		case atom.Dt:
			seenDt, openDt = true, true
		case atom.Dd:
			if !seenDt {
				dl.InsertBefore(newElement(atom.Dt), c)
				seenDt = true
			}
			openDt, seenDd = false, true
		case atom.Div:
			openDt, seenDd = false, true
		}
	}
	if !seenDt {
		dl.InsertBefore(newElement(atom.Dt), dl.FirstChild)
		openDt = !seenDd
	}
	if openDt {
		dl.AppendChild(newElement(atom.Dd))
	}
}

func wrapIn(n *html.Node, a atom.Atom) {
	w := newElement(a)
	n.Parent.InsertBefore(w, n)
	n.Parent.RemoveChild(n)
	w.AppendChild(n)
}

func newElement(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

// moveChildrenBefore moves every child of from in front of ref.
func moveChildrenBefore(from, ref *html.Node) {
	for c := from.FirstChild; c != nil; {
		next := c.NextSibling
		from.RemoveChild(c)
		ref.Parent.InsertBefore(c, ref)
		c = next
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key && a.Namespace == "" {
			return a.Val
		}
	}
	return ""
}

// stripInvalidXMLChars removes characters not allowed in XML 1.0 content.
func stripInvalidXMLChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0x9 || r == 0xA || r == 0xD ||
			(r >= 0x20 && r <= 0xD7FF) ||
			(r >= 0xE000 && r <= 0xFFFD) ||
			(r >= 0x10000 && r <= 0x10FFFF) {
			return r
		}
		return -1
	}, s)
}

// sanitizeDimension reduces "12.6px" style values to a whole number.
func sanitizeDimension(val string) string {
	val = strings.TrimSpace(val)
	for _, unit := range []string{"px", "rem", "em", "%", "pt"} {
		val = strings.TrimSuffix(val, unit)
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil || f < 0 {
		return ""
	}
	return strconv.Itoa(int(math.Round(f)))
}

// sanitizeID replaces whitespace so the value is a valid XML id.
func sanitizeID(val string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '-'
		}
		return r
	}, strings.TrimSpace(val))
}

// renderXHTML writes n as XHTML. Comments are dropped.
func renderXHTML(buf *bytes.Buffer, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(html.EscapeString(n.Data))
	case html.ElementNode:
		buf.WriteByte('<')
		buf.WriteString(n.Data)
		for _, a := range n.Attr {
			fmt.Fprintf(buf, ` %s="%s"`, a.Key, html.EscapeString(a.Val))
		}
		if voidElements[n.DataAtom] && n.FirstChild == nil {
			buf.WriteString("/>")
			return
		}
		buf.WriteByte('>')
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
		buf.WriteString("</" + n.Data + ">")
	case html.DocumentNode:
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			renderXHTML(buf, c)
		}
	case html.RawNode:
		buf.WriteString(n.Data)
	}
}
