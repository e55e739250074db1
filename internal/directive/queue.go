package directive

import (
	"sort"

	"cutline/internal/domain"
)

// Queue holds pending directives ordered by ascending priority. Directives
// with equal priority keep their submission order.
type Queue struct {
	items []domain.Directive
}

func (q *Queue) Push(ds ...domain.Directive) {
	q.items = append(q.items, ds...)
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].Priority < q.items[j].Priority
	})
}

// Pop removes and returns the head of the queue.
func (q *Queue) Pop() (domain.Directive, bool) {
	if len(q.items) == 0 {
		return domain.Directive{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

func (q *Queue) Len() int { return len(q.items) }

// IDs lists pending directive ids in execution order.
func (q *Queue) IDs() []string {
	out := make([]string, len(q.items))
	for i, d := range q.items {
		out[i] = d.ID
	}
	return out
}

func (q *Queue) Pending() []domain.Directive {
	return append([]domain.Directive(nil), q.items...)
}
