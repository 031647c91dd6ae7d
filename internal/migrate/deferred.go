package migrate

// DeferredSQL is the ordered queue of statements a schema editor runs after
// every immediate statement of a migration. It is owned by one editor session
// and is not safe for concurrent use.
type DeferredSQL struct {
	statements []string
}

// Len returns the number of queued statements
func (q *DeferredSQL) Len() int {
	return len(q.statements)
}

// Append queues statements at the end
func (q *DeferredSQL) Append(statements ...string) {
	q.statements = append(q.statements, statements...)
}

// Insert queues statements immediately before index at. at equal to Len
// appends.
func (q *DeferredSQL) Insert(at int, statements ...string) {
	if at < 0 || at > len(q.statements) {
		panic("migrate: deferred insert index out of range")
	}
	if len(statements) == 0 {
		return
	}
	merged := make([]string, 0, len(q.statements)+len(statements))
	merged = append(merged, q.statements[:at]...)
	merged = append(merged, statements...)
	merged = append(merged, q.statements[at:]...)
	q.statements = merged
}

// Statements returns a copy of the queue
func (q *DeferredSQL) Statements() []string {
	out := make([]string, len(q.statements))
	copy(out, q.statements)
	return out
}

// Reset empties the queue
func (q *DeferredSQL) Reset() {
	q.statements = nil
}
