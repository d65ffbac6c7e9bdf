package domain

import (
	"time"
)

// Field is a canonical input column name.
type Field string

// Required fields.
const (
	FieldUserID    Field = "user_id"
	FieldTimestamp Field = "timestamp"
	FieldAmount    Field = "amount"
)

// Optional fields. Each one enables the feature groups derived from it.
const (
	FieldTransactionID       Field = "transaction_id"
	FieldMerchantCategory    Field = "merchant_category"
	FieldMerchantID          Field = "merchant_id"
	FieldCountry             Field = "country"
	FieldLocationRegion      Field = "location_region"
	FieldLatitude            Field = "latitude"
	FieldLongitude           Field = "longitude"
	FieldDeviceID            Field = "device_id"
	FieldBrowserFingerprint  Field = "browser_fingerprint"
	FieldIPAddress           Field = "ip_address"
	FieldFailedLoginAttempts Field = "failed_login_attempts"
	FieldProfileUpdated      Field = "profile_updated"
	FieldIsNewPayee          Field = "is_new_payee"
	FieldChannel             Field = "transaction_channel"
	FieldIsCardPresent       Field = "is_card_present"
	FieldCurrency            Field = "currency"
)

// RequiredFields lists the columns every input must carry.
var RequiredFields = []Field{FieldUserID, FieldAmount, FieldTimestamp}

// OptionalFields lists every recognised optional column.
var OptionalFields = []Field{
	FieldTransactionID,
	FieldMerchantCategory,
	FieldMerchantID,
	FieldCountry,
	FieldLocationRegion,
	FieldLatitude,
	FieldLongitude,
	FieldDeviceID,
	FieldBrowserFingerprint,
	FieldIPAddress,
	FieldFailedLoginAttempts,
	FieldProfileUpdated,
	FieldIsNewPayee,
	FieldChannel,
	FieldIsCardPresent,
	FieldCurrency,
}

// Table is raw tabular input as read from a file or request body.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Transaction is one normalized input record.
// Empty strings and nil pointers mean the cell was missing.
type Transaction struct {
	// Core identifiers
	ID     string `json:"transactionId"`
	UserID string `json:"userId"`

	Timestamp time.Time `json:"timestamp"`
	Amount    float64   `json:"amount"`

	// Merchant
	MerchantCategory string `json:"merchantCategory,omitempty"`
	MerchantID       string `json:"merchantId,omitempty"`

	// Location
	Country        string   `json:"country,omitempty"`
	LocationRegion string   `json:"locationRegion,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`

	// Device and session
	DeviceID            string   `json:"deviceId,omitempty"`
	BrowserFingerprint  string   `json:"browserFingerprint,omitempty"`
	IPAddress           string   `json:"ipAddress,omitempty"`
	FailedLoginAttempts *float64 `json:"failedLoginAttempts,omitempty"`
	ProfileUpdated      *float64 `json:"profileUpdated,omitempty"`

	// Payment
	IsNewPayee    *float64 `json:"isNewPayee,omitempty"`
	Channel       string   `json:"channel,omitempty"`
	IsCardPresent *float64 `json:"isCardPresent,omitempty"`
	Currency      string   `json:"currency,omitempty"`

	// Position in the input and the original cells, kept for export.
	Row int      `json:"-"`
	Raw []string `json:"-"`
}

// Schema records which optional fields an input carries.
type Schema struct {
	present map[Field]bool
}

// NewSchema builds a schema with the given fields marked present.
func NewSchema(fields ...Field) Schema {
	s := Schema{present: make(map[Field]bool, len(fields))}
	for _, f := range fields {
		s.present[f] = true
	}
	return s
}

// Has reports whether the field was present in the input.
func (s Schema) Has(f Field) bool {
	return s.present[f]
}

// HasGeo reports whether both coordinates are available.
func (s Schema) HasGeo() bool {
	return s.present[FieldLatitude] && s.present[FieldLongitude]
}

// Fields returns the present optional fields in canonical order.
func (s Schema) Fields() []Field {
	var out []Field
	for _, f := range OptionalFields {
		if s.present[f] {
			out = append(out, f)
		}
	}
	return out
}
