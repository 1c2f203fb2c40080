package model

// DeltaPage is one page of the source's cursor-paginated delta feed.
type DeltaPage struct {
	Added      []Record
	Modified   []Record
	Removed    []string // Record IDs.
	NextCursor string
	HasMore    bool
}

// Upserts returns the union of Added and Modified keyed by record ID, in first
// appearance order. When an ID appears more than once the later entry wins, so
// a modification overrides an addition within the same page.
func (p DeltaPage) Upserts() []Record {
	index := make(map[string]int, len(p.Added)+len(p.Modified))
	out := make([]Record, 0, len(p.Added)+len(p.Modified))

	for _, batch := range [][]Record{p.Added, p.Modified} {
		for _, rec := range batch {
			if i, ok := index[rec.ID]; ok {
				out[i] = rec
				continue
			}
			index[rec.ID] = len(out)
			out = append(out, rec)
		}
	}

	return out
}

// TokenExchange is the result of exchanging a short-lived link token for a
// long-lived account credential.
type TokenExchange struct {
	Credential string
	AccountID  string
}
