package store

import (
	"reflect"
	"strings"

	contract "github.com/paulexconde/fieldsurvey/pkg/store"
)

// insertColumns lists the `db` tagged fields of dto as columns and named
// placeholders, in field order.
func insertColumns(dto contract.DTO) (columns string, placeholders string) {
	t := reflect.TypeOf(dto)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	var names, params []string
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("db")
		if tag == "" || tag == "-" {
			continue
		}
		names = append(names, tag)
		params = append(params, ":"+tag)
	}

	return strings.Join(names, ", "), strings.Join(params, ", ")
}
