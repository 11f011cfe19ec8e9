package cninfo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"github.com/hyperifyio/goharvest/internal/filing"
)

type rawRecord struct {
	AnnouncementTitle string    `json:"announcementTitle"`
	AdjunctURL        string    `json:"adjunctUrl"`
	SecCode           string    `json:"secCode"`
	SecName           string    `json:"secName"`
	AnnouncementTime  flexInt64 `json:"announcementTime"`
}

type queryResponse struct {
	Announcements json.RawMessage `json:"announcements"`
	Classified    json.RawMessage `json:"classifiedAnnouncements"`
}

// DecodeRecords normalizes a query response into records. Rows come from
// "announcements" when non-empty, otherwise from "classifiedAnnouncements",
// which is either a flat list or a list of per-security lists. Each row is
// decoded on its own and rows that fail to decode are dropped. Bodies that
// fail to parse are passed through jsonrepair once before giving up.
func DecodeRecords(body []byte) ([]filing.Record, error) {
	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(string(body))
		if rerr != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
		resp = queryResponse{}
		if err2 := json.Unmarshal([]byte(repaired), &resp); err2 != nil {
			return nil, fmt.Errorf("parse response: %w", err)
		}
	}
	rows, err := rowList(resp.Announcements, "announcements")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if rows, err = rowList(resp.Classified, "classifiedAnnouncements"); err != nil {
			return nil, err
		}
	}
	out := make([]filing.Record, 0, len(rows))
	for _, raw := range rows {
		var r rawRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		out = append(out, filing.Record{
			Title:            strings.TrimSpace(r.AnnouncementTitle),
			AdjunctURL:       strings.TrimSpace(r.AdjunctURL),
			SecCode:          strings.TrimSpace(r.SecCode),
			SecName:          strings.TrimSpace(r.SecName),
			AnnouncementTime: int64(r.AnnouncementTime),
		})
	}
	return out, nil
}

// rowList flattens a list whose elements are rows or lists of rows. Null or
// absent means no rows.
func rowList(raw json.RawMessage, field string) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", field, err)
	}
	var out []json.RawMessage
	for _, it := range items {
		it = bytes.TrimSpace(it)
		if len(it) == 0 || it[0] != '[' {
			out = append(out, it)
			continue
		}
		var group []json.RawMessage
		if err := json.Unmarshal(it, &group); err != nil {
			continue
		}
		out = append(out, group...)
	}
	return out, nil
}

// flexInt64 accepts a JSON number or a numeric string. Anything else,
// including null, decodes as 0.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	*f = 0
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*f = flexInt64(n)
	} else if fl, err := strconv.ParseFloat(s, 64); err == nil {
		*f = flexInt64(fl)
	}
	return nil
}
