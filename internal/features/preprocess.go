// Package features turns raw transaction tables into a numeric feature matrix.
package features

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Batch is a cleaned, canonically ordered set of transactions.
type Batch struct {
	Records []*domain.Transaction
	Schema  domain.Schema
	Columns []string // original header, for export
	Dropped int
}

// Len returns the number of valid records.
func (b *Batch) Len() int { return len(b.Records) }

// aliases maps alternative header spellings to canonical fields.
var aliases = map[string]domain.Field{
	"transaction_time":   domain.FieldTimestamp,
	"transaction_amount": domain.FieldAmount,
	"card_present":       domain.FieldIsCardPresent,
	"txn_id":             domain.FieldTransactionID,
	"id":                 domain.FieldTransactionID,
	"channel":            domain.FieldChannel,
	"lat":                domain.FieldLatitude,
	"lon":                domain.FieldLongitude,
	"lng":                domain.FieldLongitude,
	"customer_id":        domain.FieldUserID,
	"account_id":         domain.FieldUserID,
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
}

// Preprocess validates the header, parses every row and drops the ones
// that cannot be used. Records come back sorted by user, time and id.
func Preprocess(table *domain.Table) (*Batch, error) {
	if table == nil {
		return nil, fmt.Errorf("%w: no input table", domain.ErrValidation)
	}

	index := resolveColumns(table.Columns)

	var missing []string
	for _, f := range domain.RequiredFields {
		if _, ok := index[f]; !ok {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required column(s): %s", domain.ErrValidation, strings.Join(missing, ", "))
	}

	var present []domain.Field
	for _, f := range domain.OptionalFields {
		if _, ok := index[f]; ok {
			present = append(present, f)
		}
	}

	batch := &Batch{
		Schema:  domain.NewSchema(present...),
		Columns: table.Columns,
		Records: make([]*domain.Transaction, 0, len(table.Rows)),
	}

	for i, row := range table.Rows {
		tx, ok := parseRow(i, row, index)
		if !ok {
			batch.Dropped++
			continue
		}
		batch.Records = append(batch.Records, tx)
	}

	if batch.Dropped > 0 {
		slog.Warn("dropped unparsable records", "dropped", batch.Dropped, "total", len(table.Rows))
	}
	if len(batch.Records) == 0 {
		return nil, fmt.Errorf("%w: %d rows read, %d dropped", domain.ErrNoValidRecords, len(table.Rows), batch.Dropped)
	}

	sort.SliceStable(batch.Records, func(a, b int) bool {
		ra, rb := batch.Records[a], batch.Records[b]
		if ra.UserID != rb.UserID {
			return ra.UserID < rb.UserID
		}
		if !ra.Timestamp.Equal(rb.Timestamp) {
			return ra.Timestamp.Before(rb.Timestamp)
		}
		if ra.ID != rb.ID {
			return ra.ID < rb.ID
		}
		return ra.Row < rb.Row
	})

	slog.Info("records loaded",
		"valid", len(batch.Records),
		"dropped", batch.Dropped,
		"optional_fields", len(present),
	)
	return batch, nil
}

func resolveColumns(header []string) map[domain.Field]int {
	known := make(map[domain.Field]bool)
	for _, f := range domain.RequiredFields {
		known[f] = true
	}
	for _, f := range domain.OptionalFields {
		known[f] = true
	}

	index := make(map[domain.Field]int)
	for i, h := range header {
		name := normalizeHeader(h)
		f := domain.Field(name)
		if alias, ok := aliases[name]; ok {
			f = alias
		}
		if !known[f] {
			continue
		}
		if _, dup := index[f]; !dup {
			index[f] = i
		}
	}
	return index
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "_")
	return strings.ReplaceAll(h, "-", "_")
}

func parseRow(i int, row []string, index map[domain.Field]int) (*domain.Transaction, bool) {
	cell := func(f domain.Field) string {
		j, ok := index[f]
		if !ok || j >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[j])
	}

	userID := cell(domain.FieldUserID)
	if userID == "" {
		return nil, false
	}
	amount, err := strconv.ParseFloat(cell(domain.FieldAmount), 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return nil, false
	}
	ts, ok := parseTime(cell(domain.FieldTimestamp))
	if !ok {
		return nil, false
	}

	id := cell(domain.FieldTransactionID)
	if id == "" {
		id = fmt.Sprintf("row-%d", i+1)
	}

	return &domain.Transaction{
		ID:                  id,
		UserID:              userID,
		Timestamp:           ts,
		Amount:              amount,
		MerchantCategory:    cell(domain.FieldMerchantCategory),
		MerchantID:          cell(domain.FieldMerchantID),
		Country:             cell(domain.FieldCountry),
		LocationRegion:      cell(domain.FieldLocationRegion),
		Latitude:            parseNumber(cell(domain.FieldLatitude)),
		Longitude:           parseNumber(cell(domain.FieldLongitude)),
		DeviceID:            cell(domain.FieldDeviceID),
		BrowserFingerprint:  cell(domain.FieldBrowserFingerprint),
		IPAddress:           cell(domain.FieldIPAddress),
		FailedLoginAttempts: parseNumber(cell(domain.FieldFailedLoginAttempts)),
		ProfileUpdated:      parseNumber(cell(domain.FieldProfileUpdated)),
		IsNewPayee:          parseNumber(cell(domain.FieldIsNewPayee)),
		Channel:             cell(domain.FieldChannel),
		IsCardPresent:       parseNumber(cell(domain.FieldIsCardPresent)),
		Currency:            cell(domain.FieldCurrency),
		Row:                 i,
		Raw:                 row,
	}, true
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
		if secs > 1e12 {
			secs /= 1000
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true
	}
	return time.Time{}, false
}

func parseNumber(s string) *float64 {
	var v float64
	switch strings.ToLower(s) {
	case "":
		return nil
	case "true", "t", "yes", "y":
		v = 1
	case "false", "f", "no", "n":
		v = 0
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		v = f
	}
	return &v
}
