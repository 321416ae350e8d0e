// Package queue implements the two-segment job FIFO described in spec §3
// and §9: pending GETs first, pending POSTs second, new entries appended to
// their segment's tail, the head always the highest-priority pending job.
//
// The original C source kept a single linked list with a side "last queued
// GET" pointer and an assert(found) in pop_queued_job guarding its
// invariant; spec §9's open question calls for a proper two-segment FIFO
// instead, which is what this package is.
package queue

// Job is the minimal payload the queue cares about: an opaque session
// identifier and whether the request is a GET (no form body) or a POST.
type Job struct {
	SessionID uint64
	IsPOST    bool
}

// Queue is a FIFO partitioned into a GET segment and a POST segment.
type Queue struct {
	gets  []Job
	posts []Job
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends job to the tail of its segment.
func (q *Queue) Push(j Job) {
	if j.IsPOST {
		q.posts = append(q.posts, j)
	} else {
		q.gets = append(q.gets, j)
	}
}

// Pop removes and returns the head job: GETs strictly before POSTs, FIFO
// within each segment (spec §3, §4.5 "GETs before POSTs").
func (q *Queue) Pop() (Job, bool) {
	if len(q.gets) > 0 {
		j := q.gets[0]
		q.gets = q.gets[1:]
		return j, true
	}
	if len(q.posts) > 0 {
		j := q.posts[0]
		q.posts = q.posts[1:]
		return j, true
	}
	return Job{}, false
}

// Remove drops any queued job for sessionID (used on client disconnect while
// WAITING, spec §4.7). It is a no-op if the session has no queued job.
func (q *Queue) Remove(sessionID uint64) {
	q.gets = removeSession(q.gets, sessionID)
	q.posts = removeSession(q.posts, sessionID)
}

// Len reports the total number of queued jobs across both segments.
func (q *Queue) Len() int {
	return len(q.gets) + len(q.posts)
}

func removeSession(jobs []Job, sessionID uint64) []Job {
	for i, j := range jobs {
		if j.SessionID == sessionID {
			return append(jobs[:i], jobs[i+1:]...)
		}
	}
	return jobs
}
