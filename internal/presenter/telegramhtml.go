package presenter

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

// md is configured once with our renderer registered in place of
// goldmark's default HTML renderer; the chat service only understands
// a small HTML subset (<b>, <i>, <code>, <pre>, <a>), so a full HTML
// document renderer would produce markup the chat service rejects.
var md = goldmark.New(
	goldmark.WithRenderer(
		renderer.NewRenderer(renderer.WithNodeRenderers(
			util.Prioritized(&chatHTMLRenderer{}, 1000),
		)),
	),
)

// ToChatHTML converts markdown-ish assistant text into the chat
// service's restricted HTML dialect. Unparseable input degrades to a
// plain escaped string rather than an error, since this always runs on
// a best-effort path (chat message bodies, never user-security-critical
// text).
func ToChatHTML(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return EscapeHTML(src)
	}
	return strings.TrimRight(buf.String(), "\n")
}

// EscapeHTML escapes the three characters significant to the chat
// service's HTML subset.
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// chatHTMLRenderer implements goldmark's NodeRenderer, emitting only
// the tags the chat service's formatting dialect accepts.
type chatHTMLRenderer struct{}

func (r *chatHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindDocument, r.renderNoop)
	reg.Register(ast.KindParagraph, r.renderParagraph)
	reg.Register(ast.KindText, r.renderText)
	reg.Register(ast.KindTextBlock, r.renderNoop)
	reg.Register(ast.KindEmphasis, r.renderEmphasis)
	reg.Register(ast.KindCodeSpan, r.renderCodeSpan)
	reg.Register(ast.KindCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindFencedCodeBlock, r.renderCodeBlock)
	reg.Register(ast.KindLink, r.renderLink)
	reg.Register(ast.KindAutoLink, r.renderAutoLink)
	reg.Register(ast.KindList, r.renderNoop)
	reg.Register(ast.KindListItem, r.renderListItem)
	reg.Register(ast.KindHeading, r.renderHeading)
	reg.Register(ast.KindBlockquote, r.renderNoop)
	reg.Register(ast.KindThematicBreak, r.renderThematicBreak)
}

func (r *chatHTMLRenderer) renderNoop(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderParagraph(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering && n.NextSibling() != nil {
		_, _ = w.WriteString("\n\n")
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderText(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	t := n.(*ast.Text)
	_, _ = w.WriteString(EscapeHTML(string(t.Segment.Value(src))))
	if t.SoftLineBreak() {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderEmphasis(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	em := n.(*ast.Emphasis)
	tag := "i"
	if em.Level == 2 {
		tag = "b"
	}
	if entering {
		fmt.Fprintf(w, "<%s>", tag)
	} else {
		fmt.Fprintf(w, "</%s>", tag)
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderCodeSpan(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("<code>")
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			_, _ = w.WriteString(EscapeHTML(string(t.Segment.Value(src))))
		}
	}
	_, _ = w.WriteString("</code>")
	return ast.WalkSkipChildren, nil
}

func (r *chatHTMLRenderer) renderCodeBlock(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	_, _ = w.WriteString("<pre>")
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		l := lines.At(i)
		_, _ = w.WriteString(EscapeHTML(string(l.Value(src))))
	}
	_, _ = w.WriteString("</pre>")
	return ast.WalkSkipChildren, nil
}

func (r *chatHTMLRenderer) renderLink(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	link := n.(*ast.Link)
	if entering {
		fmt.Fprintf(w, `<a href="%s">`, EscapeHTML(string(link.Destination)))
	} else {
		_, _ = w.WriteString("</a>")
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderAutoLink(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	al := n.(*ast.AutoLink)
	url := string(al.URL(src))
	fmt.Fprintf(w, `<a href="%s">%s</a>`, EscapeHTML(url), EscapeHTML(url))
	return ast.WalkSkipChildren, nil
}

func (r *chatHTMLRenderer) renderListItem(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("• ")
	} else {
		_, _ = w.WriteString("\n")
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderHeading(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if entering {
		_, _ = w.WriteString("<b>")
	} else {
		_, _ = w.WriteString("</b>\n")
	}
	return ast.WalkContinue, nil
}

func (r *chatHTMLRenderer) renderThematicBreak(w util.BufWriter, src []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	_, _ = w.WriteString("\n---\n")
	return ast.WalkContinue, nil
}
