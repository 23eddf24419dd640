package telegram

import (
	"bytes"
	"html"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var mdParser = goldmark.New().Parser()

// ToHTML converts notification markdown to the HTML subset Telegram accepts
// (<b>, <i>, <code>, <pre>, <a>). Raw HTML in the source is escaped, bodies
// may quote customer text.
func ToHTML(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))

	w := &htmlWriter{src: src}
	w.children(doc)
	return strings.TrimRight(w.buf.String(), "\n")
}

// PlainText drops every markup, used when Telegram rejects the HTML.
func PlainText(md string) string {
	src := []byte(md)
	doc := mdParser.Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && n.Kind() != ast.KindListItem {
				buf.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Text:
			buf.Write(v.Segment.Value(src))
			if v.SoftLineBreak() || v.HardLineBreak() {
				buf.WriteString("\n")
			}
		case *ast.String:
			buf.Write(v.Value)
		case *ast.AutoLink:
			buf.Write(v.URL(src))
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			writeLines(&buf, n, src, false)
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}

type htmlWriter struct {
	src []byte
	buf bytes.Buffer
}

func (w *htmlWriter) children(n ast.Node) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		w.node(c)
	}
}

func (w *htmlWriter) wrap(tag string, n ast.Node) {
	w.buf.WriteString("<" + tag + ">")
	w.children(n)
	w.buf.WriteString("</" + tag + ">")
}

func (w *htmlWriter) node(n ast.Node) {
	switch v := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		w.children(v)
		w.buf.WriteString("\n\n")
	case *ast.Heading:
		w.wrap("b", v)
		w.buf.WriteString("\n\n")
	case *ast.ThematicBreak:
		w.buf.WriteString("———\n\n")
	case *ast.Blockquote:
		inner := &htmlWriter{src: w.src}
		inner.children(v)
		for _, line := range strings.Split(strings.TrimRight(inner.buf.String(), "\n"), "\n") {
			w.buf.WriteString("▎" + line + "\n")
		}
		w.buf.WriteString("\n")
	case *ast.FencedCodeBlock, *ast.CodeBlock:
		w.buf.WriteString("<pre>")
		writeLines(&w.buf, v, w.src, true)
		w.buf.WriteString("</pre>\n\n")
	case *ast.List:
		w.list(v)
	case *ast.Text:
		w.buf.WriteString(html.EscapeString(string(v.Segment.Value(w.src))))
		if v.SoftLineBreak() || v.HardLineBreak() {
			w.buf.WriteString("\n")
		}
	case *ast.String:
		w.buf.WriteString(html.EscapeString(string(v.Value)))
	case *ast.CodeSpan:
		w.buf.WriteString("<code>")
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				w.buf.WriteString(html.EscapeString(string(t.Segment.Value(w.src))))
			}
		}
		w.buf.WriteString("</code>")
	case *ast.Emphasis:
		if v.Level >= 2 {
			w.wrap("b", v)
		} else {
			w.wrap("i", v)
		}
	case *ast.Link:
		w.buf.WriteString(`<a href="` + html.EscapeString(string(v.Destination)) + `">`)
		w.children(v)
		w.buf.WriteString("</a>")
	case *ast.AutoLink:
		url := html.EscapeString(string(v.URL(w.src)))
		w.buf.WriteString(`<a href="` + url + `">` + url + "</a>")
	case *ast.Image:
		w.buf.WriteString("[image: " + html.EscapeString(string(v.Destination)) + "]")
	case *ast.RawHTML:
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			w.buf.WriteString(html.EscapeString(string(seg.Value(w.src))))
		}
	case *ast.HTMLBlock:
		writeLines(&w.buf, v, w.src, true)
		w.buf.WriteString("\n")
	default:
		w.children(n)
	}
}

func (w *htmlWriter) list(l *ast.List) {
	idx := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		if l.IsOrdered() {
			w.buf.WriteString(strconv.Itoa(idx) + ". ")
			idx++
		} else {
			w.buf.WriteString("• ")
		}
		inner := &htmlWriter{src: w.src}
		inner.children(item)
		w.buf.WriteString(strings.ReplaceAll(strings.TrimRight(inner.buf.String(), "\n"), "\n", "\n  "))
		w.buf.WriteString("\n")
	}
	w.buf.WriteString("\n")
}

func writeLines(buf *bytes.Buffer, n ast.Node, src []byte, escape bool) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		if escape {
			buf.WriteString(html.EscapeString(string(seg.Value(src))))
		} else {
			buf.Write(seg.Value(src))
		}
	}
}
