package index

import "github.com/Adithya-Monish-Kumar-K/pkgsearch/internal/indexer/tokenizer"

// Posting records how often a term occurs in one field of one record.
type Posting struct {
	ID        string          `json:"id"`
	Field     tokenizer.Field `json:"field"`
	Frequency int             `json:"tf"`
	Positions []int           `json:"pos"`
}

// PostingList is ordered by ID, then field.
type PostingList []Posting

func (p Posting) less(o Posting) bool {
	if p.ID != o.ID {
		return p.ID < o.ID
	}
	return p.Field < o.Field
}

// TermEntry is a term with its postings, as exported for persistence.
type TermEntry struct {
	Term     string      `json:"term"`
	Postings PostingList `json:"postings"`
}

// DocInfo is the per-record data kept alongside the postings: the distinct
// terms it contributed, used to undo its postings, and its field lengths.
type DocInfo struct {
	Terms     []string                   `json:"terms"`
	FieldLens [len(tokenizer.Fields)]int `json:"field_lens"`
}

// DocEntry is a record ID with its DocInfo, as exported for persistence.
type DocEntry struct {
	ID   string  `json:"id"`
	Info DocInfo `json:"info"`
}

type termEntry struct {
	postings PostingList
	df       int
}
