package serializer

import (
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
)

// MetadataLevel is the amount of control information a client asked for.
type MetadataLevel int

const (
	MetadataMinimal MetadataLevel = iota
	MetadataFull
	MetadataNone
)

var metadataLevelNames = [...]string{"minimal", "full", "none"}

// String returns the odata.metadata parameter value.
func (l MetadataLevel) String() string {
	if l < 0 || int(l) >= len(metadataLevelNames) {
		return "unknown"
	}
	return metadataLevelNames[l]
}

// ParseMetadataLevel reads the odata.metadata parameter of the first media
// range that carries one. A header without it yields MetadataMinimal.
func ParseMetadataLevel(accept string) (MetadataLevel, error) {
	for _, mediaRange := range strings.Split(accept, ",") {
		mediaRange = strings.TrimSpace(mediaRange)
		if mediaRange == "" {
			continue
		}
		_, params, err := mime.ParseMediaType(mediaRange)
		if err != nil {
			continue
		}
		value, ok := params["odata.metadata"]
		if !ok {
			continue
		}
		for i, name := range metadataLevelNames {
			if strings.EqualFold(value, name) {
				return MetadataLevel(i), nil
			}
		}
		return MetadataMinimal, fmt.Errorf("unsupported odata.metadata value %q", value)
	}
	return MetadataMinimal, nil
}

// RequestMetadataLevel honors $format before the Accept header.
func RequestMetadataLevel(r *http.Request) (MetadataLevel, error) {
	if format := queryOption(r.URL.RawQuery, "$format"); format != "" {
		if !strings.Contains(format, "/") {
			format = "application/" + format
		}
		return ParseMetadataLevel(format)
	}
	return ParseMetadataLevel(r.Header.Get("Accept"))
}

// queryOption returns the first value of name in a raw query. url.Query
// drops pairs containing ';', which $format values carry.
func queryOption(rawQuery, name string) string {
	for _, pair := range strings.Split(rawQuery, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err != nil || k != name {
			continue
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return ""
		}
		return v
	}
	return ""
}

// ContentType returns the response media type for level.
func ContentType(level MetadataLevel) string {
	return "application/json;odata.metadata=" + level.String()
}
