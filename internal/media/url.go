package media

import "strings"

// streamKeyOf extracts the whole path after host:port of an RTMP URL to
// use as the stream key passed to Play/Publish, e.g.
// "rtmp://host:1935/app/stream_id/in" -> "app/stream_id/in".
func streamKeyOf(url string) string {
	const scheme = "rtmp://"
	u := strings.TrimPrefix(url, scheme)

	idx := strings.Index(u, "/")
	if idx < 0 {
		return ""
	}
	return u[idx+1:]
}
