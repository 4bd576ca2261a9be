package scraper

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"shift-booker/pkg/booker"
)

// Selectors of the room calendar markup.
const (
	dayCardSelector   = "div.arena-day-card"
	dayTitleSelector  = "h5"
	shiftSelector     = "div.arena_shift_instance"
	shiftNameSelector = "div.text-start"
	spotsSelector     = "span.number-container[data-number]"
	claimSelector     = "button.button_hold"
)

// findShift returns the shift block of t, or an empty selection. Date and
// label must equal the text as a browser shows it: whitespace runs in the
// markup collapse to one space and the ends are trimmed. The target itself
// is compared verbatim.
func findShift(doc *goquery.Document, t booker.SlotTarget) *goquery.Selection {
	days := doc.Find(dayCardSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return renderedText(s.Find(dayTitleSelector).First()) == t.Date
	})
	return days.Find(shiftSelector).FilterFunction(func(_ int, s *goquery.Selection) bool {
		return renderedText(s.Find(shiftNameSelector).First()) == t.Label
	}).First()
}

func renderedText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

// observe classifies what doc shows for t.
func observe(doc *goquery.Document, t booker.SlotTarget) booker.Observation {
	shift := findShift(doc, t)
	if shift.Length() == 0 {
		return booker.NotPresent
	}

	if spots := shift.Find(spotsSelector).First(); spots.Length() > 0 {
		raw, _ := spots.Attr("data-number")
		if n, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && n <= 0 {
			return booker.Full
		}
	}

	button := shift.Find(claimSelector).First()
	if button.Length() == 0 || !visible(button, shift) || disabled(button) {
		return booker.Unclaimable
	}
	return booker.Claimable
}

// visible reports whether s and its ancestors up to root are shown.
func visible(s, root *goquery.Selection) bool {
	nodes := s.ParentsUntilSelection(root).AddSelection(s)
	shown := true
	nodes.EachWithBreak(func(_ int, n *goquery.Selection) bool {
		if hidden(n) {
			shown = false
		}
		return shown
	})
	return shown
}

func hidden(s *goquery.Selection) bool {
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	if s.HasClass("d-none") || s.HasClass("hidden") {
		return true
	}
	style := strings.ReplaceAll(strings.ToLower(s.AttrOr("style", "")), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

func disabled(s *goquery.Selection) bool {
	if _, ok := s.Attr("disabled"); ok {
		return true
	}
	return s.AttrOr("aria-disabled", "") == "true"
}

// claimAction returns the endpoint and form fields the claim button submits.
// Buttons driven by htmx carry the endpoint in hx-post; plain buttons submit
// their enclosing form.
func claimAction(button *goquery.Selection) (action string, fields map[string]string) {
	fields = make(map[string]string)
	form := button.Closest("form")
	form.Find("input[name]").Each(func(_ int, in *goquery.Selection) {
		name, _ := in.Attr("name")
		fields[name] = in.AttrOr("value", "")
	})
	if name, ok := button.Attr("name"); ok {
		fields[name] = button.AttrOr("value", "")
	}

	for _, attr := range []string{"hx-post", "formaction", "data-url"} {
		if v := strings.TrimSpace(button.AttrOr(attr, "")); v != "" {
			return v, fields
		}
	}
	if form.Length() > 0 {
		return strings.TrimSpace(form.AttrOr("action", "")), fields
	}
	return "", fields
}

// csrfToken returns the Django CSRF token embedded in the page, if any.
func csrfToken(doc *goquery.Document) string {
	if v := doc.Find(`input[name="csrfmiddlewaretoken"]`).First().AttrOr("value", ""); v != "" {
		return v
	}
	return doc.Find(`meta[name="csrf-token"]`).First().AttrOr("content", "")
}
