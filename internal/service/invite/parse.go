package invite

import (
	"net/url"
	"strings"
)

const maxTokenLength = 128

// Parsed is an invite reference extracted from scanned QR data.
type Parsed struct {
	Kind  string `json:"kind"`
	Token string `json:"token"`
}

// Parse recognises the invite encodings handed out by the apps:
//
//	splitter://invite/<kind>/<token>
//	https://<host>/invite/<kind>/<token>
//	any of the above with ?kind=<kind>&token=<token>
//	<kind>:<token>
//
// It reports false for anything else.
func Parse(data string) (Parsed, bool) {
	data = strings.TrimSpace(data)
	if data == "" {
		return Parsed{}, false
	}
	if !strings.Contains(data, "://") {
		kind, token, ok := strings.Cut(data, ":")
		if !ok {
			return Parsed{}, false
		}
		return build(strings.ToLower(kind), token)
	}

	u, err := url.Parse(data)
	if err != nil {
		return Parsed{}, false
	}
	var segments []string
	switch strings.ToLower(u.Scheme) {
	case "splitter":
		if !strings.EqualFold(u.Host, "invite") {
			return Parsed{}, false
		}
		segments = splitPath(u.Path)
	case "http", "https":
		segments = splitPath(u.Path)
		if len(segments) == 0 || segments[0] != "invite" {
			return Parsed{}, false
		}
		segments = segments[1:]
	default:
		return Parsed{}, false
	}

	switch len(segments) {
	case 2:
		return build(strings.ToLower(segments[0]), segments[1])
	case 0:
		q := u.Query()
		return build(strings.ToLower(q.Get("kind")), q.Get("token"))
	default:
		return Parsed{}, false
	}
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func build(kind, token string) (Parsed, bool) {
	if !validKind(kind) || !validToken(token) {
		return Parsed{}, false
	}
	return Parsed{Kind: kind, Token: token}, true
}

func validToken(token string) bool {
	if token == "" || len(token) > maxTokenLength {
		return false
	}
	for _, r := range token {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
