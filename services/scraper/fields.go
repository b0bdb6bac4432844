package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// formField is one resolved login form input
type formField struct {
	Name  string
	Value string
}

// fieldLocator matches a form input against an ordered candidate list by
// id first, then by name. Portal markup changes without notice, so the
// candidate lists are configuration, not code.
type fieldLocator struct {
	candidates []string
}

func (l fieldLocator) locate(form *goquery.Selection) (formField, bool) {
	// Candidate names are operator configuration and may contain
	// characters that are not valid in a CSS selector, so match by
	// walking the inputs instead of interpolating into Find.
	inputs := form.Find("input")
	for _, candidate := range l.candidates {
		match := findInput(inputs, "id", candidate)
		if match == nil {
			match = findInput(inputs, "name", candidate)
		}
		if match == nil {
			continue
		}
		name := match.AttrOr("name", candidate)
		return formField{Name: name, Value: match.AttrOr("value", "")}, true
	}
	return formField{}, false
}

// findInput returns the first input whose attribute equals value exactly
func findInput(inputs *goquery.Selection, attr, value string) *goquery.Selection {
	var match *goquery.Selection
	inputs.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.AttrOr(attr, "") == value {
			match = s
			return false
		}
		return true
	})
	return match
}

// locatePassword falls back to any input[type=password] when no candidate
// name matches, mirroring the portal's own markup drift over the years.
func (l fieldLocator) locatePassword(form *goquery.Selection) (formField, bool) {
	if f, ok := l.locate(form); ok {
		return f, true
	}
	sel := form.Find("input[type=password]").First()
	if sel.Length() == 0 {
		return formField{}, false
	}
	name := sel.AttrOr("name", sel.AttrOr("id", ""))
	if name == "" {
		return formField{}, false
	}
	return formField{Name: name}, true
}

// inputNames lists the name (or id) of every input in the selection, in
// document order. Used for field-not-found diagnostics.
func inputNames(root *goquery.Selection) []string {
	names := []string{}
	root.Find("input").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", s.AttrOr("id", ""))
		if name != "" {
			names = append(names, name)
		}
	})
	return names
}

// hiddenFields collects every hidden input in the form. The portal tucks
// its CSRF token and assorted state into hidden fields that must be
// echoed back on submit.
func hiddenFields(form *goquery.Selection) []formField {
	var fields []formField
	form.Find("input[type=hidden]").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if name == "" {
			return
		}
		fields = append(fields, formField{Name: name, Value: s.AttrOr("value", "")})
	})
	return fields
}

// containsMarker reports whether any of the markers occurs in body
// (case-insensitive). body must already be lowercased.
func containsMarker(body string, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && strings.Contains(body, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}
