package research

import (
	"bytes"
	"encoding/csv"
	"sort"
	"strconv"
	"time"

	"github.com/adresearch/adtrial/internal/sink"
)

// ExportLongCSV renders one row per (participant, question) pair. Long
// format suits per-item analysis in R or pandas.
func ExportLongCSV(records []sink.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	_ = w.Write([]string{
		"participant_id", "ad_code", "question", "numeric", "label", "submitted_at",
	})
	for _, rec := range records {
		questions := make([]string, 0, len(rec.Payload.Responses))
		for q := range rec.Payload.Responses {
			questions = append(questions, q)
		}
		sort.Strings(questions)
		for _, q := range questions {
			entry := rec.Payload.Responses[q]
			row := []string{
				rec.Payload.ParticipantID,
				rec.Payload.AssignedAdCode,
				q,
				strconv.Itoa(entry.Numeric),
				entry.Label,
				formatTime(rec.Payload.Timestamp),
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// ExportWideCSV renders one row per participant: demographics, assignment,
// watch instrumentation, then one column per question in sorted order.
// Question cells left empty mean the participant's submission predates that
// question's addition to the bank.
func ExportWideCSV(records []sink.Record) ([]byte, error) {
	itemSet := map[string]struct{}{}
	for _, rec := range records {
		for q := range rec.Payload.Responses {
			itemSet[q] = struct{}{}
		}
	}
	items := make([]string, 0, len(itemSet))
	for q := range itemSet {
		items = append(items, q)
	}
	sort.Strings(items)

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	header := append([]string{
		"participant_id", "consent", "age_group", "gender",
		"ad_code", "ad_url", "start_time", "end_time", "watch_seconds",
		"clicked_more_info", "completion_code", "submitted_at",
	}, items...)
	_ = w.Write(header)

	for _, rec := range records {
		p := rec.Payload
		row := []string{
			p.ParticipantID,
			strconv.FormatBool(p.Consent),
			p.AgeGroup,
			p.Gender,
			p.AssignedAdCode,
			p.AssignedAdURL,
			formatTime(p.StartTime),
			formatTime(p.EndTime),
			formatWatch(p.WatchSeconds),
			strconv.FormatBool(p.ClickedMoreInfo),
			p.CompletionCode,
			formatTime(p.Timestamp),
		}
		for _, q := range items {
			if entry, ok := p.Responses[q]; ok {
				row = append(row, strconv.Itoa(entry.Numeric))
			} else {
				row = append(row, "")
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatWatch(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
