package postgres

import (
	"fmt"

	"github.com/v1xingyue/tokenwords/internal/domain"
)

// query accumulates a SELECT with positional arguments.
type query struct {
	sql  string
	args []any
}

func newQuery(base string, args ...any) *query {
	return &query{sql: base, args: args}
}

// where appends " AND " + cond, where cond holds one %d for the next
// placeholder index.
func (q *query) where(cond string, arg any) {
	q.args = append(q.args, arg)
	q.sql += " AND " + fmt.Sprintf(cond, len(q.args))
}

func (q *query) timeRange(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		q.where(col+" >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		q.where(col+" <= $%d", *opts.Until)
	}
}

func (q *query) order(by string) {
	q.sql += " ORDER BY " + by
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.args = append(q.args, opts.Limit)
		q.sql += fmt.Sprintf(" LIMIT $%d", len(q.args))
	}
	if opts.Offset > 0 {
		q.args = append(q.args, opts.Offset)
		q.sql += fmt.Sprintf(" OFFSET $%d", len(q.args))
	}
}
