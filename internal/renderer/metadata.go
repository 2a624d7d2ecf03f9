package renderer

import (
	"fmt"
	"strings"
	"time"

	goldmarkmeta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func extractMetadata(ctx parser.Context) Metadata {
	raw := goldmarkmeta.Get(ctx)
	var meta Metadata
	if raw == nil {
		return meta
	}

	// Map order is random; tags wins over keywords either way.
	haveTags := false
	meta.Raw = make(map[string]any)
	for k, v := range raw {
		meta.Raw[k] = v
		switch strings.ToLower(k) {
		case "title":
			if str, ok := toString(v); ok {
				meta.Title = str
			}
		case "summary":
			if str, ok := toString(v); ok {
				meta.Summary = str
			}
		case "description":
			if str, ok := toString(v); ok && meta.Summary == "" {
				meta.Summary = str
			}
		case "tags":
			meta.Tags = toStringSlice(v)
			haveTags = true
		case "keywords":
			if !haveTags {
				meta.Tags = toStringSlice(v)
			}
		case "date":
			meta.Date = toTime(v)
		case "draft":
			meta.Draft = toBool(v)
		case "toc":
			meta.TOC = toBool(v)
		}
	}

	if len(meta.Raw) == 0 {
		meta.Raw = nil
	}

	return meta
}

func toString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	case int, int64, float64:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if str, ok := toString(item); ok {
				out = append(out, str)
			}
		}
		return out
	case []string:
		return append([]string(nil), vv...)
	case string:
		parts := strings.Split(vv, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		if str, ok := toString(v); ok {
			return []string{str}
		}
		return nil
	}
}

func toTime(v any) time.Time {
	switch val := v.(type) {
	case time.Time:
		return val
	case string:
		val = strings.TrimSpace(val)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, val); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func toBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "true", "yes", "on", "1":
			return true
		}
	}
	return false
}
