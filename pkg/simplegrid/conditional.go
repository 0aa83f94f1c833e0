package simplegrid

import (
	"net/http"
	"time"
)

// QuoteETag returns the quoted-string form sent in the ETag header.
func QuoteETag(checksum string) string {
	return `"` + checksum + `"`
}

// LastModified truncates an upload date to the one-second precision of HTTP dates.
func LastModified(uploadDate time.Time) time.Time {
	return uploadDate.UTC().Truncate(time.Second)
}

// NotModified evaluates the request's cache validators against a blob.
// etag is the quoted ETag. The blob is not modified only when at least one
// validator is present and every present validator matches: If-None-Match
// by exact equality, If-Modified-Since when lastModified is not after it.
// An If-Modified-Since value that does not parse is ignored.
func NotModified(r *http.Request, etag string, lastModified time.Time) bool {
	ifNoneMatch := r.Header.Get("If-None-Match")

	var ifModifiedSince time.Time
	hasSince := false
	if raw := r.Header.Get("If-Modified-Since"); raw != "" {
		if t, err := http.ParseTime(raw); err == nil {
			ifModifiedSince = t
			hasSince = true
		}
	}

	if ifNoneMatch == "" && !hasSince {
		return false
	}
	if ifNoneMatch != "" && ifNoneMatch != etag {
		return false
	}
	if hasSince && LastModified(lastModified).After(ifModifiedSince) {
		return false
	}
	return true
}
