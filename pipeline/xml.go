package pipeline

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/Clickin/querygate/errors"
)

// parseXMLBody decodes an XML request body into a parameter map. The root
// element's children become the parameters: leaf elements contribute their
// trimmed text, nested elements contribute maps, and repeated sibling names
// collapse into a list. DOCTYPE declarations and custom entities are
// rejected outright, which closes the XXE class of attacks.
func parseXMLBody(body []byte, mediaType string) (map[string]any, error) {
	decoder := xml.NewDecoder(bytes.NewReader(body))
	decoder.Strict = true
	// No custom entity table: only the predefined XML entities resolve.
	decoder.Entity = map[string]string{}

	root, err := nextElement(decoder)
	if err != nil {
		return nil, errors.NewParse(mediaType, err)
	}

	parsed, err := parseElement(decoder, root)
	if err != nil {
		return nil, errors.NewParse(mediaType, err)
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		// A root holding only text has no named parameters to offer.
		return map[string]any{}, nil
	}
	return obj, nil
}

// nextElement advances to the document's root element, rejecting DOCTYPE
// on the way.
func nextElement(decoder *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := decoder.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, nil
		case xml.Directive:
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(t))), "DOCTYPE") {
				return xml.StartElement{}, fmt.Errorf("DOCTYPE declarations are not allowed")
			}
		}
	}
}

// parseElement consumes one element subtree. Returns a string for leaf
// elements and a map for elements with children.
func parseElement(decoder *xml.Decoder, start xml.StartElement) (any, error) {
	children := make(map[string]any)
	var text strings.Builder

	for {
		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("unexpected end of document inside <%s>", start.Name.Local)
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := parseElement(decoder, t)
			if err != nil {
				return nil, err
			}
			addChild(children, t.Name.Local, child)

		case xml.CharData:
			text.Write(t)

		case xml.Directive:
			if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(string(t))), "DOCTYPE") {
				return nil, fmt.Errorf("DOCTYPE declarations are not allowed")
			}

		case xml.EndElement:
			if len(children) > 0 {
				return children, nil
			}
			return strings.TrimSpace(text.String()), nil
		}
	}
}

// addChild stores a child value, collapsing repeated sibling names into a
// list in document order.
func addChild(children map[string]any, name string, value any) {
	existing, ok := children[name]
	if !ok {
		children[name] = value
		return
	}
	if list, ok := existing.([]any); ok {
		children[name] = append(list, value)
		return
	}
	children[name] = []any{existing, value}
}

// renderXML serializes a value under the given root element. Maps become
// nested elements with keys sorted for stable output, lists repeat the
// enclosing element name per item, and scalars render as escaped text.
func renderXML(root string, value any) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	writeXMLValue(&buf, root, value)
	return buf.Bytes()
}

func writeXMLValue(buf *bytes.Buffer, name string, value any) {
	if list, ok := value.([]any); ok {
		for _, item := range list {
			writeXMLValue(buf, name, item)
		}
		return
	}

	fmt.Fprintf(buf, "<%s>", name)
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeXMLValue(buf, k, v[k])
		}
	case []map[string]any:
		for _, item := range v {
			writeXMLValue(buf, "item", item)
		}
	case nil:
	default:
		_ = xml.EscapeText(buf, []byte(fmt.Sprintf("%v", v)))
	}
	fmt.Fprintf(buf, "</%s>", name)
}
