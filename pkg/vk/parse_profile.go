package vk

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var prefetchKeyRe = regexp.MustCompile(`"apiPrefetchCache"\s*:\s*\[`)

var (
	errNoPrefetch     = errors.New("no apiPrefetchCache on page")
	errNoUser         = errors.New("users.get returned no user")
	errBrokenPrefetch = errors.New("unterminated apiPrefetchCache array")
)

type prefetchEntry struct {
	Method   string          `json:"method"`
	Response json.RawMessage `json:"response"`
}

type titled struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

type prefetchUser struct {
	ID         int64          `json:"id"`
	ScreenName string         `json:"screen_name"`
	Domain     string         `json:"domain"`
	FirstName  string         `json:"first_name"`
	LastName   string         `json:"last_name"`
	Nickname   string         `json:"nickname"`
	Sex        int            `json:"sex"`
	BirthDate  string         `json:"bdate"`
	City       *titled        `json:"city"`
	Country    *titled        `json:"country"`
	HomeTown   string         `json:"home_town"`
	Status     string         `json:"status"`
	About      string         `json:"about"`
	Site       string         `json:"site"`
	PhotoMax   string         `json:"photo_max"`
	Photo200   string         `json:"photo_200"`
	Verified   flexInt        `json:"verified"`
	Online     flexInt        `json:"online"`
	LastSeen   *struct {
		Time int64 `json:"time"`
	} `json:"last_seen"`
	FollowersCount flexInt            `json:"followers_count"`
	Counters       map[string]flexInt `json:"counters"`
}

type countResponse struct {
	Count *flexInt `json:"count"`
}

// flexInt accepts numbers, numeric strings and booleans
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*f = flexInt(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		*f = flexInt(n)
	case bool:
		if t {
			*f = 1
		}
	}
	return nil
}

// extractJSONArray returns the balanced JSON array starting at s[start],
// honouring string literals and escapes.
func extractJSONArray(s string, start int) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// parseProfile builds a Profile from the apiPrefetchCache bundle embedded
// in a profile page. It returns errNoPrefetch or errNoUser when the page
// has no usable profile, and a decode error when the bundle is malformed.
func parseProfile(html string, userID int64, now time.Time) (*Profile, error) {
	loc := prefetchKeyRe.FindStringIndex(html)
	if loc == nil {
		return nil, errNoPrefetch
	}
	raw, ok := extractJSONArray(html, loc[1]-1)
	if !ok {
		return nil, errBrokenPrefetch
	}

	var entries []prefetchEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to decode apiPrefetchCache: %w", err)
	}
	if len(entries) == 0 {
		return nil, errNoPrefetch
	}

	byMethod := make(map[string]json.RawMessage, len(entries))
	for _, e := range entries {
		if e.Method != "" {
			byMethod[e.Method] = e.Response
		}
	}

	var users []prefetchUser
	if r, ok := byMethod["users.get"]; ok && len(r) > 0 {
		if err := json.Unmarshal(r, &users); err != nil {
			return nil, fmt.Errorf("failed to decode users.get: %w", err)
		}
	}
	if len(users) == 0 {
		return nil, errNoUser
	}
	u := users[0]

	p := &Profile{
		UserID:      u.ID,
		ScreenName:  u.ScreenName,
		FirstName:   u.FirstName,
		LastName:    u.LastName,
		Nickname:    u.Nickname,
		Sex:         u.Sex,
		BirthDate:   u.BirthDate,
		HomeTown:    u.HomeTown,
		Status:      u.Status,
		About:       u.About,
		Site:        u.Site,
		Photo:       u.PhotoMax,
		Verified:    u.Verified != 0,
		Online:      u.Online != 0,
		Followers:   int64(u.FollowersCount),
		Counters:    make(map[string]int64, len(u.Counters)),
		CollectedAt: now.Unix(),
	}
	if p.UserID == 0 {
		p.UserID = userID
	}
	if p.ScreenName == "" {
		p.ScreenName = u.Domain
	}
	if p.Photo == "" {
		p.Photo = u.Photo200
	}
	if u.City != nil {
		p.City = u.City.Title
	}
	if u.Country != nil {
		p.Country = u.Country.Title
	}
	if u.LastSeen != nil {
		p.LastSeen = u.LastSeen.Time
	}
	for k, v := range u.Counters {
		p.Counters[k] = int64(v)
	}

	// dedicated list methods carry exact totals that override users.get counters
	for method, counter := range map[string]string{
		"friends.get":            "friends",
		"users.getFollowers":     "followers",
		"users.getSubscriptions": "subscriptions",
		"photos.get":             "photos",
		"video.get":              "videos",
	} {
		var cr countResponse
		if r, ok := byMethod[method]; ok && json.Unmarshal(r, &cr) == nil && cr.Count != nil {
			p.Counters[counter] = int64(*cr.Count)
		}
	}
	p.Friends = p.Counters["friends"]
	p.Subscriptions = p.Counters["subscriptions"]
	if n, ok := p.Counters["followers"]; ok {
		p.Followers = n
	}

	bundle, err := json.Marshal(byMethod)
	if err != nil {
		return nil, fmt.Errorf("failed to encode profile bundle: %w", err)
	}
	p.Bundle = bundle

	return p, nil
}
