package master

// WorkQueue holds the files still to hand out, per framework, and the order
// in which frameworks are worked through. The current framework is always
// the framework of the next file to be handed out.
type WorkQueue struct {
	files map[string][]string
	order []string // frameworks with files left; the first one is current
}

// NewWorkQueue returns an empty queue.
func NewWorkQueue() *WorkQueue {
	return &WorkQueue{files: make(map[string][]string)}
}

// Add appends files to framework, entering the framework at the end of the
// processing order if it is not already waiting.
func (q *WorkQueue) Add(framework string, files []string) {
	if len(files) == 0 {
		return
	}
	q.files[framework] = append(q.files[framework], files...)
	if !q.waiting(framework) {
		q.order = append(q.order, framework)
	}
}

// Prioritize moves framework to the front of the processing order.
func (q *WorkQueue) Prioritize(framework string) bool {
	for i, f := range q.order {
		if f == framework {
			copy(q.order[1:i+1], q.order[:i])
			q.order[0] = framework
			return true
		}
	}
	return false
}

// Current returns the framework of the next file, or "" when the queue is empty.
func (q *WorkQueue) Current() string {
	if len(q.order) == 0 {
		return ""
	}
	return q.order[0]
}

// Next removes and returns the next file of the current framework.
func (q *WorkQueue) Next() (string, bool) {
	if len(q.order) == 0 {
		return "", false
	}
	fw := q.order[0]
	file := q.files[fw][0]
	q.files[fw] = q.files[fw][1:]
	if len(q.files[fw]) == 0 {
		delete(q.files, fw)
		q.order = q.order[1:]
	}
	return file, true
}

// Remaining returns the number of files not yet handed out.
func (q *WorkQueue) Remaining() int {
	n := 0
	for _, files := range q.files {
		n += len(files)
	}
	return n
}

// Frameworks returns the processing order, current framework first.
func (q *WorkQueue) Frameworks() []string {
	return append([]string(nil), q.order...)
}

// Len returns the number of files left for framework.
func (q *WorkQueue) Len(framework string) int {
	return len(q.files[framework])
}

func (q *WorkQueue) waiting(framework string) bool {
	for _, f := range q.order {
		if f == framework {
			return true
		}
	}
	return false
}
