package netlog

import "strings"

// URLFilter decides whether traffic to a URL is recorded.
type URLFilter func(url string) bool

// AcceptAll records everything.
func AcceptAll(string) bool { return true }

// Substrings matches URLs containing any of allow. Blank entries are ignored;
// with nothing left it accepts everything.
func Substrings(allow ...string) URLFilter {
	var needles []string
	for _, a := range allow {
		if a = strings.TrimSpace(a); a != "" {
			needles = append(needles, a)
		}
	}
	if len(needles) == 0 {
		return AcceptAll
	}
	return func(url string) bool {
		for _, n := range needles {
			if strings.Contains(url, n) {
				return true
			}
		}
		return false
	}
}
