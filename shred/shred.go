// Package shred turns XML documents into revbase node records and
// back.
package shred

import (
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/node"
)

// Import parses the XML read from rd and appends its top-level
// elements below the document root of w, creating the root if
// needed.  Comments, processing instructions and whitespace-only text
// are dropped.  Import returns the number of records written.
func Import(w node.Writer, rd io.Reader) (n int, err error) {
	doc, err := xmlquery.Parse(rd)
	if err != nil {
		return 0, fmt.Errorf("parsing XML: %w", err)
	}
	err = node.InitDocument(w)
	if err != nil {
		return
	}
	for child := doc.FirstChild; child != nil; child = child.NextSibling {
		err = importNode(w, node.RootKey, child, &n)
		if err != nil {
			return
		}
	}
	log.Debugf("imported %d records", n)
	return
}

func qname(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

func importNode(w node.Writer, parent uint64, x *xmlquery.Node, n *int) (err error) {
	switch x.Type {
	case xmlquery.ElementNode:
		attrs := make(map[string]string, len(x.Attr))
		for _, a := range x.Attr {
			attrs[qname(a.Name.Space, a.Name.Local)] = a.Value
		}
		key, err := node.AppendElement(w, parent, qname(x.Prefix, x.Data), attrs)
		if err != nil {
			return err
		}
		*n++
		for child := x.FirstChild; child != nil; child = child.NextSibling {
			err = importNode(w, key, child, n)
			if err != nil {
				return err
			}
		}
	case xmlquery.TextNode, xmlquery.CharDataNode:
		if strings.TrimSpace(x.Data) == "" {
			return
		}
		_, err = node.AppendText(w, parent, []byte(x.Data))
		if err != nil {
			return
		}
		*n++
	}
	return
}

// Export writes the document stored in r as XML.
func Export(r node.Reader, out io.Writer) (err error) {
	doc := &xmlquery.Node{Type: xmlquery.DocumentNode}
	err = exportChildren(r, doc, node.RootKey)
	if err != nil {
		return
	}
	_, err = io.WriteString(out, doc.OutputXML(false))
	return
}

func exportChildren(r node.Reader, parent *xmlquery.Node, key uint64) (err error) {
	tree := node.Tree{}.New(r)
	kids, err := tree.Children(key)
	if err != nil {
		return
	}
	for _, kid := range kids {
		rec, err := r.Get(kid)
		if err != nil {
			return err
		}
		switch v := rec.(type) {
		case node.Element:
			x := &xmlquery.Node{Type: xmlquery.ElementNode, Data: r.Name(v.Name)}
			if i := strings.Index(x.Data, ":"); i > 0 {
				x.Prefix, x.Data = x.Data[:i], x.Data[i+1:]
			}
			for _, a := range v.Attrs {
				xmlquery.AddAttr(x, r.Name(a.Name), a.Value)
			}
			xmlquery.AddChild(parent, x)
			err = exportChildren(r, x, kid)
			if err != nil {
				return err
			}
		case node.Text:
			xmlquery.AddChild(parent, &xmlquery.Node{Type: xmlquery.TextNode, Data: string(v.Value)})
		default:
			return fmt.Errorf("node %d (%T) has no XML form", kid, rec)
		}
	}
	return
}
