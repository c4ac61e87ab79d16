package offlinegw

import (
	"hash/crc32"
	"net/http"
	"path"
	"strings"
)

// Destination is what the client intends to do with a response, as reported
// by Sec-Fetch-Dest or inferred from the request.
type Destination string

const (
	DestUnknown  Destination = ""
	DestDocument Destination = "document"
	DestStyle    Destination = "style"
	DestScript   Destination = "script"
	DestImage    Destination = "image"
)

// Request describes an intercepted outgoing request.
type Request struct {
	Method      string
	URI         string // path + optional "?query"
	Destination Destination
	Header      http.Header
}

// Key is the cache identity of the request. Only GET is cacheable, so the
// method is implied.
func (r Request) Key() string { return r.URI }

// Path is the URI without its query.
func (r Request) Path() string {
	if i := strings.IndexByte(r.URI, '?'); i >= 0 {
		return r.URI[:i]
	}
	return r.URI
}

func (r Request) Cacheable() bool {
	return r.Method == "" || r.Method == http.MethodGet
}

// Response is a fully buffered HTTP-like response. It doubles as the stored
// value of a cache entry.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt int64 // unix seconds
	Hash32   uint32
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Clone deep-copies headers and body so the stored copy and the returned
// response never share memory.
func (r Response) Clone() Response {
	out := r
	out.Header = cloneHeader(r.Header)
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

func newResponse(status int, h http.Header, body []byte, storedAt int64) Response {
	resp := Response{
		Status:   status,
		Header:   cloneHeader(h),
		Body:     body,
		StoredAt: storedAt,
		Hash32:   crc32.ChecksumIEEE(body),
	}
	resp.Header.Del("Content-Length")
	return resp
}

const (
	OfflineStatus = http.StatusServiceUnavailable
	OfflineBody   = "Offline - content not available"
)

// offlineResponse is returned when cache-first finds neither a cached entry
// nor a reachable network.
func offlineResponse() Response {
	h := http.Header{}
	h.Set("Content-Type", "text/plain; charset=utf-8")
	return newResponse(OfflineStatus, h, []byte(OfflineBody), 0)
}

// inferDestination fills in a destination for clients that do not send
// Sec-Fetch-Dest.
func inferDestination(r *http.Request) Destination {
	if d := strings.ToLower(strings.TrimSpace(r.Header.Get("Sec-Fetch-Dest"))); d != "" {
		switch Destination(d) {
		case DestDocument, DestStyle, DestScript, DestImage:
			return Destination(d)
		}
		return DestUnknown
	}
	if strings.EqualFold(r.Header.Get("Sec-Fetch-Mode"), "navigate") {
		return DestDocument
	}
	switch strings.ToLower(path.Ext(r.URL.Path)) {
	case ".css":
		return DestStyle
	case ".js", ".mjs":
		return DestScript
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif":
		return DestImage
	}
	if strings.Contains(r.Header.Get("Accept"), "text/html") {
		return DestDocument
	}
	return DestUnknown
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		vv := make([]string, len(vs))
		copy(vv, vs)
		out[k] = vv
	}
	return out
}
