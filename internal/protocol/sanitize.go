package protocol

import "regexp"

var (
	apiKeyPattern = regexp.MustCompile(`sk-[A-Za-z0-9_\-]{20,}`)
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9_\-]{20,}`)
	pathPattern   = regexp.MustCompile(`(?:/[\w.\-]+){2,}/?`)
)

const maxErrorLength = 200

// ScrubCredentials masks API-key-like and bearer-token-like substrings,
// leaving everything else intact.
func ScrubCredentials(msg string) string {
	msg = bearerPattern.ReplaceAllString(msg, "Bearer ***")
	msg = apiKeyPattern.ReplaceAllString(msg, "sk-***")
	return msg
}

// SanitizeError scrubs credentials and path-like substrings from an error
// message and truncates it. Applied to every error string that leaves the
// process, whether in an HTTP reply or an observation record.
func SanitizeError(msg string) string {
	msg = ScrubCredentials(msg)
	msg = pathPattern.ReplaceAllString(msg, "<path>")
	runes := []rune(msg)
	if len(runes) > maxErrorLength {
		msg = string(runes[:maxErrorLength]) + "..."
	}
	return msg
}
