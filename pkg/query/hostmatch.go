package query

import "strings"

// MatchHost applies the host filter semantics of BuildPredicate in memory.
//
//	"" or "*"      matches every host
//	"*.example.com" matches example.com and any subdomain, port ignored
//	"api"           matches any host containing "api", case-insensitive
func MatchHost(host, pattern string) bool {
	pattern = strings.ToLower(strings.TrimSpace(pattern))
	if pattern == "" || pattern == AllToken {
		return true
	}

	host = strings.ToLower(host)
	if suffix, ok := strings.CutPrefix(pattern, "*."); ok {
		if suffix == "" {
			return true
		}
		name, _, _ := strings.Cut(host, ":")
		return name == suffix || strings.HasSuffix(name, "."+suffix)
	}
	return strings.Contains(host, pattern)
}
