package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shift-booker/pkg/booker"
)

// DefaultBaseURL is the shifts site.
const DefaultBaseURL = "https://wardyati.com"

// Target dates are rendered like "2025-10-02 Thursday"; only the leading
// numeric date is used to pick the calendar month.
var datePattern = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)

// ShiftsURL returns the room page to scan. When a target falls outside the
// month of now, the monthly view of the first such target is requested.
func ShiftsURL(base, room string, targets booker.TargetSet, now time.Time) string {
	u := strings.TrimSuffix(base, "/") + "/rooms/" + url.PathEscape(room) + "/"
	year, month, ok := targetMonth(targets, now)
	if !ok {
		return u
	}
	return fmt.Sprintf("%s?view=monthly&year=%d&month=%d", u, year, month)
}

func targetMonth(targets booker.TargetSet, now time.Time) (year, month int, ok bool) {
	for _, t := range targets {
		m := datePattern.FindStringSubmatch(t.Date)
		if m == nil {
			continue
		}
		y, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		mo, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		if y != now.Year() || mo != int(now.Month()) {
			return y, mo, true
		}
	}
	return 0, 0, false
}
