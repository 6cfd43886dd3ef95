package viewer

import (
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/artipeek/artifact"
	"github.com/hazyhaar/artipeek/preview"
)

const pageStyle = `body{margin:0;background:#111;color:#eee;font-family:sans-serif;display:flex;flex-direction:column;align-items:center;gap:1em;padding:2em}
video{max-width:100%;max-height:85vh;border-radius:1em;border:2px solid rgba(255,255,255,.1)}
a,button{background:#fff;color:#000;border:none;border-radius:.5em;padding:10px 20px;text-decoration:none}`

func elem(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node { return &html.Node{Type: html.TextNode, Data: s} }

func appendAll(parent *html.Node, children ...*html.Node) *html.Node {
	for _, c := range children {
		parent.AppendChild(c)
	}
	return parent
}

// renderPage writes the viewer page. An empty handle renders the
// "nothing pending" state.
func renderPage(w io.Writer, h artifact.Handle) error {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	head := appendAll(elem(atom.Head),
		elem(atom.Meta, "charset", "utf-8"),
		appendAll(elem(atom.Title), text("artipeek viewer")),
		appendAll(elem(atom.Style), text(pageStyle)),
	)

	body := elem(atom.Body)
	if h == "" {
		appendAll(body, appendAll(elem(atom.P, "id", "empty"), text("No pending video.")))
	} else {
		appendAll(body,
			elem(atom.Video, "id", "video-preview", "controls", "", "autoplay", "", "src", string(h)),
			appendAll(elem(atom.A, "id", "download", "href", preview.DownloadURL(h), "download", ""), text("Download")),
			appendAll(elem(atom.Form, "method", "post", "action", "/viewer/decline"),
				elem(atom.Input, "type", "hidden", "name", "url", "value", string(h)),
				appendAll(elem(atom.Button, "type", "submit"), text("Back to page")),
			),
		)
	}

	doc.AppendChild(appendAll(elem(atom.Html, "lang", "en"), head, body))
	return html.Render(w, doc)
}
