package repository

import "fmt"

// binder accumulates positional arguments for dynamically built queries.
type binder struct {
	args []interface{}
}

// bind appends v and returns its $n placeholder.
func (b *binder) bind(v interface{}) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func nullIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
