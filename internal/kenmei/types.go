package kenmei

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kenmeiwatch/kenmeiwatch/internal/chapter"
	"github.com/kenmeiwatch/kenmeiwatch/internal/logging"
)

// Series is one tracked manga with its latest released chapter.
type Series struct {
	ID      string
	Title   string
	Chapter chapter.Value
	Unread  bool
}

type loginUser struct {
	Login      string `json:"login"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type loginRequest struct {
	User loginUser `json:"user"`
}

type loginResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}

type entriesPage struct {
	Entries []entry `json:"entries"`
	Pagy    struct {
		Page  int `json:"page"`
		Pages int `json:"pages"`
	} `json:"pagy"`
}

type entry struct {
	ID         json.RawMessage `json:"id"`
	Attributes struct {
		Title         string          `json:"title"`
		Unread        bool            `json:"unread"`
		LatestChapter json.RawMessage `json:"latestChapter"`
	} `json:"attributes"`
}

// parseEntries converts raw entries into Series, skipping entries without a
// title or a non-zero chapter. Read entries are kept with Unread=false.
func parseEntries(entries []entry) []Series {
	log := logging.Component("kenmei")
	out := make([]Series, 0, len(entries))
	for _, e := range entries {
		title := strings.TrimSpace(e.Attributes.Title)
		if title == "" {
			log.Warn().RawJSON("id", nonNull(e.ID)).Msg("skipping entry with missing title")
			continue
		}
		ch := latestChapter(e.Attributes.LatestChapter)
		if ch.Empty() {
			log.Warn().Str("series", title).Msg("skipping entry with empty or zero chapter")
			continue
		}
		id := rawString(e.ID)
		if id == "" {
			id = title
		}
		out = append(out, Series{ID: id, Title: title, Chapter: ch, Unread: e.Attributes.Unread})
	}
	return out
}

// latestChapter accepts {"chapter": X}, a bare number or string, or null.
func latestChapter(raw json.RawMessage) chapter.Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '{' {
		var obj struct {
			Chapter json.RawMessage `json:"chapter"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return ""
		}
		raw = bytes.TrimSpace(obj.Chapter)
		if len(raw) == 0 {
			return ""
		}
	}
	var v chapter.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

// rawString renders a JSON string or number id as plain text.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func nonNull(raw json.RawMessage) []byte {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null")
	}
	return raw
}
