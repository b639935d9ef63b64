// Package metadata contains types shared by the record model and the
// archival schema.
package metadata

// NameValue is a BigQuery-compatible name/value pair. It stores ss fields
// that have no dedicated column.
type NameValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
