package models

import (
	"fmt"
	"strings"
	"time"
)

// Place is a deduplicated location derived from response answers.
type Place struct {
	ID        int       `db:"id" json:"id"`
	Signature string    `db:"signature" json:"signature"`
	Latitude  *float64  `db:"latitude" json:"latitude,omitempty"`
	Longitude *float64  `db:"longitude" json:"longitude,omitempty"`
	FullName  string    `db:"full_name" json:"full_name"`
	Temporary bool      `db:"temporary" json:"temporary"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CoordSignature is the dedup key of a coordinate pair.
func CoordSignature(lat, lng float64) string {
	return fmt.Sprintf("geo:%.6f,%.6f", lat, lng)
}

// NameSignature is the dedup key of a place name.
func NameSignature(name string) string {
	return "name:" + strings.ToLower(strings.Join(strings.Fields(name), " "))
}
