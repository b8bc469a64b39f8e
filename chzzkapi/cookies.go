package chzzkapi

import "strings"

// CookieHeader normalizes a user-supplied cookie string into a Cookie header
// value. Accepts "k1=v1; k2=v2" and newline-separated "k=v" forms; malformed
// fragments are skipped. Returns "" when nothing usable remains.
func CookieHeader(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	var fragments []string
	if strings.Contains(raw, ";") {
		fragments = strings.Split(raw, ";")
	} else {
		fragments = strings.Split(raw, "\n")
	}
	pairs := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" {
			continue
		}
		// Strip characters that would corrupt the header.
		v = strings.NewReplacer(";", "", "\n", "", "\r", "").Replace(v)
		pairs = append(pairs, k+"="+v)
	}
	if len(pairs) == 0 {
		return ""
	}
	return strings.Join(pairs, "; ")
}

// HasSessionCookies reports whether the cookie string carries the Naver login
// cookies needed for age-restricted content.
func HasSessionCookies(raw string) bool {
	header := CookieHeader(raw)
	return strings.Contains(header, "NID_AUT=") && strings.Contains(header, "NID_SES=")
}
