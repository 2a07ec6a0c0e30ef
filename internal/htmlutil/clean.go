// Package htmlutil finds elements in scraped pages and extracts their text.
package htmlutil

import (
	"bytes"
	"io"
	"strings"

	"github.com/k3a/html2text"
	"golang.org/x/net/html"
)

// Parse parses an HTML document.
func Parse(r io.Reader) (*html.Node, error) {
	return html.Parse(r)
}

// FindElement returns the first element in document order with the given tag
// whose attribute attr equals value exactly, or nil.
func FindElement(root *html.Node, tag, attr, value string) *html.Node {
	if root == nil {
		return nil
	}
	if root.Type == html.ElementNode && root.Data == tag && Attr(root, attr) == value {
		return root
	}
	for child := root.FirstChild; child != nil; child = child.NextSibling {
		if found := FindElement(child, tag, attr, value); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of the named attribute, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// NodeText returns the readable text inside n with surrounding space trimmed.
func NodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b bytes.Buffer
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if err := html.Render(&b, child); err != nil {
			return ""
		}
	}
	return strings.TrimSpace(ToText(b.String()))
}

// ToText converts HTML to plain text, decoding entities and dropping tags.
func ToText(s string) string {
	return html2text.HTML2Text(s)
}
