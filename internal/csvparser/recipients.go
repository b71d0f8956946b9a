// Package csvparser parses bulk-recipient CSVs for the bulk-enqueue
// operator tool, adapted from the teacher's internal/csvparser: the
// same "Email column + arbitrary template fields" shape, now emitting
// enqueue.Request values instead of a bespoke EmailJob.
package csvparser

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"strings"

	"deliveryengine/internal/enqueue"
	"deliveryengine/internal/models"
)

// RecipientRow is one parsed CSV row: the recipient address plus every
// other column, keyed by header, available to the body template.
type RecipientRow struct {
	Email  string
	Fields map[string]string
}

// ParseRecipientRows parses a CSV from r. The header row must contain
// an "Email" column (case-insensitive); every other column becomes a
// template field. maxRows bounds how many rows are returned (skipped
// rows do not count); a value of zero or less means 1000.
func ParseRecipientRows(r io.Reader, maxRows int) ([]RecipientRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // rows with the wrong column count are skipped below, not rejected outright

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, errors.New("csv header row is empty")
	}

	emailIdx := -1
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.TrimSpace(h)
		normalized[i] = h
		if strings.EqualFold(h, "email") {
			emailIdx = i
		}
	}
	if emailIdx == -1 {
		return nil, errors.New("csv must contain an Email column")
	}

	if maxRows <= 0 {
		maxRows = 1000
	}

	rows := make([]RecipientRow, 0)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			continue // skip malformed row
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		fields := make(map[string]string, len(headers)-1)
		for i := range record {
			if i == emailIdx {
				continue
			}
			key := normalized[i]
			if key == "" {
				continue
			}
			fields[key] = strings.TrimSpace(record[i])
		}

		rows = append(rows, RecipientRow{Email: email, Fields: fields})
	}

	if len(rows) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}

	return rows, nil
}

// BuildRequests renders bodyTemplate against each row's Fields and
// turns the result into one enqueue.Request per recipient, ready for
// the Enqueuer. from and subject are shared across the batch.
func BuildRequests(rows []RecipientRow, from, subject, bodyTemplate string) ([]enqueue.Request, error) {
	tmpl, err := template.New("bulk").Parse(bodyTemplate)
	if err != nil {
		return nil, err
	}

	reqs := make([]enqueue.Request, 0, len(rows))
	for _, row := range rows {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, row.Fields); err != nil {
			return nil, err
		}

		meta, err := json.Marshal(row.Fields)
		if err != nil {
			return nil, err
		}

		reqs = append(reqs, enqueue.Request{
			Channel:  models.ChannelEmail,
			From:     from,
			To:       row.Email,
			Subject:  subject,
			Body:     buf.String(),
			Metadata: meta,
		})
	}
	return reqs, nil
}
