package vk

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var (
	hashtagRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])#([\p{L}\p{N}_]{2,})`)
	mentionRe = regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])@([A-Za-z0-9_.]{2,})`)
	urlRe     = regexp.MustCompile(`https?://[^\s)]+`)

	counterRe  = regexp.MustCompile(`^(\d+(?:\.\d+)?)([kKmM]?)$`)
	nonDigitRe = regexp.MustCompile(`\D+`)
	spacesRe   = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
	lineTrimRe = regexp.MustCompile(` *\n *`)
)

// Moscow is the timezone m.vk.com renders dates in
var Moscow = loadMoscow()

func loadMoscow() *time.Location {
	loc, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		return time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

// ToIntSafe parses display counters such as "1 234", "1.2K" or "3M".
// Garbage yields the digits it contains, or zero.
func ToIntSafe(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", "").Replace(s)
	m := counterRe.FindStringSubmatch(s)
	if m == nil {
		n, _ := strconv.Atoi(nonDigitRe.ReplaceAllString(s, ""))
		return n
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(m[2]) {
	case "k":
		val *= 1_000
	case "m":
		val *= 1_000_000
	}
	return int(val)
}

// ExtractTextFeatures pulls hashtags, mentions and plain URLs out of text
func ExtractTextFeatures(text string) TextFeatures {
	tf := TextFeatures{Hashtags: []string{}, Mentions: []string{}, URLs: []string{}}
	for _, m := range hashtagRe.FindAllStringSubmatch(text, -1) {
		tf.Hashtags = append(tf.Hashtags, m[1])
	}
	for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
		tf.Mentions = append(tf.Mentions, m[1])
	}
	tf.URLs = append(tf.URLs, urlRe.FindAllString(text, -1)...)
	return tf
}

// textOf renders a selection as plain text, turning <br> into line breaks
// and collapsing runs of whitespace.
func textOf(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	sel = sel.Clone()
	sel.Find("br").ReplaceWithHtml("\n")
	return cleanText(sel.Text())
}

func cleanText(s string) string {
	s = spacesRe.ReplaceAllString(s, " ")
	s = lineTrimRe.ReplaceAllString(s, "\n")
	s = newlinesRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// extractAttachments collects images, video links and external links
// from a post or comment body.
func extractAttachments(body *goquery.Selection) Attachments {
	att := Attachments{Images: []string{}, Videos: []string{}, Outlinks: []string{}}
	body.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		if src, _ := s.Attr("src"); strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
			att.Images = append(att.Images, src)
		}
	})
	body.Find(`a[href^="/video"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		att.Videos = append(att.Videos, href)
	})
	body.Find(`a[href^="http"][rel~="nofollow"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		att.Outlinks = append(att.Outlinks, href)
	})
	return att
}

var (
	fullDateRe     = regexp.MustCompile(`^(\d{1,2})\s+([a-z]{3,})\s+(\d{4})(?:\s+at\s+(\d{1,2}):(\d{2})\s*(am|pm)?)?$`)
	dayTimeRe      = regexp.MustCompile(`^(\d{1,2})\s+([a-z]{3,})\s+at\s+(\d{1,2}):(\d{2})\s*(am|pm)?$`)
	dayMonthRe     = regexp.MustCompile(`^(\d{1,2})\s+([a-z]{3,})$`)
	relativeDayRe  = regexp.MustCompile(`^(yesterday|today)\s+at\s+(\d{1,2}):(\d{2})\s*(am|pm)?`)
	relativeTimeRe = regexp.MustCompile(`^(?:(\d+)|(an?|one|two|three|four|five|six|seven|eight|nine|ten))\s+(hours?|minutes?|seconds?)\s+ago`)

	months = map[string]time.Month{
		"jan": time.January, "feb": time.February, "mar": time.March,
		"apr": time.April, "may": time.May, "jun": time.June,
		"jul": time.July, "aug": time.August, "sep": time.September,
		"oct": time.October, "nov": time.November, "dec": time.December,
	}
	numberWords = map[string]int{
		"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	}
)

// NormalizeDate turns an English m.vk.com date label into a unix timestamp
// in Moscow time. Labels without a year resolve to the most recent past
// occurrence. Unrecognized labels yield 0.
func NormalizeDate(label string, now time.Time) int64 {
	s := strings.ToLower(strings.TrimSpace(label))
	if s == "" {
		return 0
	}
	now = now.In(Moscow)

	if s == "just now" {
		return now.Unix()
	}

	if m := fullDateRe.FindStringSubmatch(s); m != nil {
		mon, ok := monthOf(m[2])
		if !ok {
			return 0
		}
		h, minute := clock(m[4], m[5], m[6])
		return time.Date(atoi(m[3]), mon, atoi(m[1]), h, minute, 0, 0, Moscow).Unix()
	}

	if m := dayTimeRe.FindStringSubmatch(s); m != nil {
		mon, ok := monthOf(m[2])
		if !ok {
			return 0
		}
		h, minute := clock(m[3], m[4], m[5])
		return pastOccurrence(now, mon, atoi(m[1]), h, minute).Unix()
	}

	if m := dayMonthRe.FindStringSubmatch(s); m != nil {
		mon, ok := monthOf(m[2])
		if !ok {
			return 0
		}
		return pastOccurrence(now, mon, atoi(m[1]), 0, 0).Unix()
	}

	if m := relativeDayRe.FindStringSubmatch(s); m != nil {
		h, minute := clock(m[2], m[3], m[4])
		t := time.Date(now.Year(), now.Month(), now.Day(), h, minute, 0, 0, Moscow)
		if m[1] == "yesterday" {
			t = t.AddDate(0, 0, -1)
		}
		return t.Unix()
	}

	if m := relativeTimeRe.FindStringSubmatch(s); m != nil {
		n := numberWords[m[2]]
		if m[1] != "" {
			n = atoi(m[1])
		}
		unit := time.Second
		switch {
		case strings.HasPrefix(m[3], "hour"):
			unit = time.Hour
		case strings.HasPrefix(m[3], "minute"):
			unit = time.Minute
		}
		return now.Add(-time.Duration(n) * unit).Unix()
	}

	return 0
}

// pastOccurrence resolves a yearless date, stepping back a year when the
// current-year reading lies more than a day in the future.
func pastOccurrence(now time.Time, mon time.Month, day, h, minute int) time.Time {
	t := time.Date(now.Year(), mon, day, h, minute, 0, 0, Moscow)
	if t.Sub(now) > 24*time.Hour {
		t = time.Date(now.Year()-1, mon, day, h, minute, 0, 0, Moscow)
	}
	return t
}

func monthOf(name string) (time.Month, bool) {
	if len(name) < 3 {
		return 0, false
	}
	m, ok := months[name[:3]]
	return m, ok
}

func clock(hh, mm, ampm string) (int, int) {
	if hh == "" {
		return 0, 0
	}
	h, minute := atoi(hh), atoi(mm)
	switch ampm {
	case "pm":
		if h != 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	return h, minute
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
