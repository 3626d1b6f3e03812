// internal/browser/har.go
package browser

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	jsoniter "github.com/json-iterator/go"
)

// HAR is a minimal HTTP Archive 1.2 document. Bodies are never recorded and
// credential-bearing headers are redacted.
type HAR struct {
	Log HARLog `json:"log"`
}

type HARLog struct {
	Version string     `json:"version"`
	Creator HARCreator `json:"creator"`
	Entries []HAREntry `json:"entries"`
}

type HARCreator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type HAREntry struct {
	StartedDateTime time.Time   `json:"startedDateTime"`
	Time            float64     `json:"time"`
	Request         HARRequest  `json:"request"`
	Response        HARResponse `json:"response"`
	Cache           struct{}    `json:"cache"`
	Timings         HARTimings  `json:"timings"`
	ResourceType    string      `json:"_resourceType,omitempty"`
	Error           string      `json:"_error,omitempty"`
}

type HARRequest struct {
	Method      string      `json:"method"`
	URL         string      `json:"url"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []HARNVPair `json:"cookies"`
	Headers     []HARNVPair `json:"headers"`
	QueryString []HARNVPair `json:"queryString"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type HARResponse struct {
	Status      int64       `json:"status"`
	StatusText  string      `json:"statusText"`
	HTTPVersion string      `json:"httpVersion"`
	Cookies     []HARNVPair `json:"cookies"`
	Headers     []HARNVPair `json:"headers"`
	Content     HARContent  `json:"content"`
	RedirectURL string      `json:"redirectURL"`
	HeadersSize int64       `json:"headersSize"`
	BodySize    int64       `json:"bodySize"`
}

type HARContent struct {
	Size     int64  `json:"size"`
	MimeType string `json:"mimeType"`
}

type HARTimings struct {
	Send    float64 `json:"send"`
	Wait    float64 `json:"wait"`
	Receive float64 `json:"receive"`
}

type HARNVPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var redactedHeaders = map[string]bool{
	"cookie":        true,
	"set-cookie":    true,
	"authorization": true,
}

func buildHAR(states []*requestState, version string) *HAR {
	entries := make([]HAREntry, 0, len(states))
	for _, st := range states {
		if st.request == nil {
			continue
		}
		elapsed := float64(0)
		if !st.end.IsZero() {
			elapsed = float64(st.end.Sub(st.start).Microseconds()) / 1000
		}
		entries = append(entries, HAREntry{
			StartedDateTime: st.start,
			Time:            elapsed,
			Request:         convertRequest(st.request),
			Response:        convertResponse(st.response, st.encodedLength),
			Timings:         HARTimings{Send: 0, Wait: elapsed, Receive: 0},
			ResourceType:    st.resourceType,
			Error:           st.errText,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartedDateTime.Before(entries[j].StartedDateTime)
	})

	return &HAR{Log: HARLog{
		Version: "1.2",
		Creator: HARCreator{Name: "librus-sync", Version: version},
		Entries: entries,
	}}
}

// WriteHAR encodes har as indented JSON into path.
func WriteHAR(path string, har *HAR) error {
	data, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(har, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode HAR: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write HAR to %s: %w", path, err)
	}
	return nil
}

func convertRequest(req *network.Request) HARRequest {
	headers := convertHeaders(req.Headers)
	return HARRequest{
		Method:      req.Method,
		URL:         req.URL,
		HTTPVersion: "HTTP/1.1",
		Cookies:     []HARNVPair{},
		Headers:     headers,
		QueryString: convertQueryString(req.URL),
		HeadersSize: calculateHeaderSize(headers),
		BodySize:    -1,
	}
}

func convertResponse(resp *network.Response, encodedLength float64) HARResponse {
	if resp == nil {
		return HARResponse{StatusText: "(no response)", Cookies: []HARNVPair{}, Headers: []HARNVPair{}, BodySize: -1}
	}
	headers := convertHeaders(resp.Headers)
	return HARResponse{
		Status:      resp.Status,
		StatusText:  resp.StatusText,
		HTTPVersion: resp.Protocol,
		Cookies:     []HARNVPair{},
		Headers:     headers,
		Content:     HARContent{Size: int64(encodedLength), MimeType: resp.MimeType},
		RedirectURL: getHeader(resp.Headers, "Location"),
		HeadersSize: calculateHeaderSize(headers),
		BodySize:    int64(encodedLength),
	}
}

// getHeader performs a case insensitive search for a header key.
func getHeader(headers network.Headers, key string) string {
	for h, v := range headers {
		if strings.EqualFold(h, key) {
			if s, ok := v.(string); ok {
				// CDP joins multi-value headers with newlines.
				return strings.Split(s, "\n")[0]
			}
		}
	}
	return ""
}

func convertHeaders(headers network.Headers) []HARNVPair {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	nvps := make([]HARNVPair, 0, len(headers))
	for _, name := range names {
		s, ok := headers[name].(string)
		if !ok {
			continue
		}
		if redactedHeaders[strings.ToLower(name)] {
			nvps = append(nvps, HARNVPair{Name: name, Value: "[redacted]"})
			continue
		}
		for _, v := range strings.Split(s, "\n") {
			nvps = append(nvps, HARNVPair{Name: name, Value: v})
		}
	}
	return nvps
}

func convertQueryString(raw string) []HARNVPair {
	u, err := url.Parse(raw)
	if err != nil {
		return []HARNVPair{}
	}
	q := u.Query()
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	nvps := make([]HARNVPair, 0, len(q))
	for _, k := range keys {
		for _, v := range q[k] {
			nvps = append(nvps, HARNVPair{Name: k, Value: v})
		}
	}
	return nvps
}

// calculateHeaderSize is a rough estimation: Name + ": " + Value + "\r\n".
func calculateHeaderSize(headers []HARNVPair) int64 {
	size := 0
	for _, h := range headers {
		size += len(h.Name) + 2 + len(h.Value) + 2
	}
	return int64(size)
}
