package core

import "sort"

// The registry helpers below must be called with p.mu held. all is kept
// sorted by id; active and completed keep insertion order.

func (p *Printer) insertLocked(j *Job) {
	// ids only grow, so appending keeps all sorted.
	p.all = append(p.all, j)
	p.active = append(p.active, j)
}

func (p *Printer) findLocked(id int) *Job {
	i := sort.Search(len(p.all), func(i int) bool { return p.all[i].id >= id })
	if i < len(p.all) && p.all[i].id == id {
		return p.all[i]
	}
	return nil
}

// completeLocked moves j from active to completed.
func (p *Printer) completeLocked(j *Job) {
	if removeJob(&p.active, j) {
		p.completed = append(p.completed, j)
	}
}

func (p *Printer) removeFromAllLocked(j *Job) {
	i := sort.Search(len(p.all), func(i int) bool { return p.all[i].id >= j.id })
	if i < len(p.all) && p.all[i] == j {
		p.all = append(p.all[:i], p.all[i+1:]...)
	}
}

func removeJob(list *[]*Job, j *Job) bool {
	for i, cur := range *list {
		if cur == j {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func cloneJobs(list []*Job) []*Job {
	out := make([]*Job, len(list))
	copy(out, list)
	return out
}
