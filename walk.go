package diagnostics

// A Visitor defines a Visit method invoked for each HealthRecord encountered
// by Walk. If the result visitor w is not nil, Walk visits each child record
// of the node with the visitor w, followed by a call of w.Visit(nil).
type Visitor interface {
	Visit(record *HealthRecord) (w Visitor)
}

// Walk traverses a computed health tree in depth-first order: it starts by
// calling v.Visit(record) with the given root record. If the visitor w
// returned by v.Visit(record) is not nil, Walk is invoked recursively with
// visitor w for each child record, followed by a call of w.Visit(nil).
func Walk(v Visitor, record *HealthRecord) {
	if v = v.Visit(record); v == nil {
		return
	}
	for i := range record.Children {
		Walk(v, &record.Children[i])
	}
	v.Visit(nil)
}

type inspector func(record *HealthRecord) bool

func (f inspector) Visit(record *HealthRecord) Visitor {
	if f(record) {
		return f
	}
	return nil
}

// Inspect traverses a computed health tree in depth-first order: it starts by
// calling f(record) with the root record. If f returns true, Inspect invokes
// f recursively for each child record, followed by a call of f(nil).
func Inspect(record *HealthRecord, f func(record *HealthRecord) bool) {
	Walk(inspector(f), record)
}
