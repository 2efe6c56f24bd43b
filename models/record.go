package models

import "strings"

// DefaultRecordPrefix is the label the source site puts in front of every
// port descriptor.
const DefaultRecordPrefix = "Port: "

// Record is one normalized unit of scraped data, e.g. "80/tcp".
type Record string

// NormalizeRecord trims surrounding whitespace from raw and strips prefix
// when present.
func NormalizeRecord(raw, prefix string) Record {
	s := strings.TrimSpace(raw)
	if prefix != "" {
		s = strings.TrimPrefix(s, strings.TrimSpace(prefix))
	}
	return Record(strings.TrimSpace(s))
}

// ResultSet is the ordered, append-only collection of records gathered in
// one run. The zero value is ready to use.
type ResultSet struct {
	records []Record
}

// Append adds records in order.
func (rs *ResultSet) Append(records ...Record) {
	rs.records = append(rs.records, records...)
}

// Len returns the number of records collected so far.
func (rs *ResultSet) Len() int {
	return len(rs.records)
}

// Snapshot returns a copy of the records. Sinks receive snapshots so they
// cannot alter the set owned by the loop.
func (rs *ResultSet) Snapshot() []Record {
	out := make([]Record, len(rs.records))
	copy(out, rs.records)
	return out
}

// Strings converts records to plain strings for writers that need them.
func Strings(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r)
	}
	return out
}
