package peloton

import (
	"strings"

	"golang.org/x/net/html"
)

// HiddenForm captures the submission target and hidden field values scraped
// from an identity-provider HTML page. Action is empty when no form element
// carried one; callers treat that as extraction failure.
type HiddenForm struct {
	Action string
	Fields map[string]string
}

// ExtractHiddenForm scans an HTML document for the first <form> action and
// every <input type="hidden"> name/value pair. The scan is tolerant of
// malformed markup and never fails; a missing action simply stays empty.
func ExtractHiddenForm(body string) HiddenForm {
	form := HiddenForm{Fields: make(map[string]string)}

	tokenizer := html.NewTokenizer(strings.NewReader(body))
	for {
		tokenType := tokenizer.Next()
		if tokenType == html.ErrorToken {
			// io.EOF or malformed input; either way the scan is done.
			return form
		}
		if tokenType != html.StartTagToken && tokenType != html.SelfClosingTagToken {
			continue
		}

		token := tokenizer.Token()
		switch token.Data {
		case "form":
			if form.Action == "" {
				form.Action = attrValue(token, "action")
			}
		case "input":
			if !strings.EqualFold(attrValue(token, "type"), "hidden") {
				continue
			}
			if name := attrValue(token, "name"); name != "" {
				form.Fields[name] = attrValue(token, "value")
			}
		}
	}
}

func attrValue(token html.Token, name string) string {
	for _, attr := range token.Attr {
		if attr.Key == name {
			return attr.Val
		}
	}
	return ""
}
