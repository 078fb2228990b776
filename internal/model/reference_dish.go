package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	pgvector "github.com/pgvector/pgvector-go"
)

// EmbeddingDimension is the width of the reference embedding column.
const EmbeddingDimension = 768

// JSONText is a JSON document stored verbatim in a jsonb column.
type JSONText json.RawMessage

// Value implements the driver.Valuer interface
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return "null", nil
	}
	if !json.Valid(j) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return string(j), nil
}

// Scan implements the sql.Scanner interface
func (j *JSONText) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], v...)
	case string:
		*j = JSONText(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return nil
}

func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// ReferenceDish is one photo of the reference dataset with its embedding.
type ReferenceDish struct {
	ID          string          `gorm:"primaryKey;size:128" json:"id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	FileName    string          `gorm:"size:255" json:"file_name"`
	Split       string          `gorm:"size:32;index" json:"split"`
	Macros      Macros          `gorm:"embedded" json:"macros"`
	Ingredients JSONText        `gorm:"type:jsonb" json:"ingredients"`
	Embedding   pgvector.Vector `gorm:"type:vector(768)" json:"-"`
}

func (ReferenceDish) TableName() string {
	return "reference_dishes"
}
