package auth

import (
	"fmt"
	"io"
	"strings"
)

// WriteCookieGuide prints how to copy the remixsid cookie out of a browser
func WriteCookieGuide(w io.Writer) {
	rule := strings.Repeat("=", 72)
	lines := []string{
		rule,
		"Getting a remixsid cookie for vkcrawler",
		rule,
		"",
		"Anonymous sessions work for public communities. A logged-in account",
		"sees more comments and profile fields and is throttled less.",
		"",
		"1. Log in at https://m.vk.com in a desktop browser.",
		"2. Open developer tools (F12 or Cmd+Option+I).",
		"3. Application (Chrome) or Storage (Firefox) -> Cookies -> https://m.vk.com",
		"4. Copy the value of the 'remixsid' cookie (a long hex string).",
		"5. Run: vkcrawler auth login <name> and paste it when asked.",
		"",
		"The cookie grants full access to the account. Use a secondary account,",
		"never share it, and refresh it when VK logs the session out.",
		rule,
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
