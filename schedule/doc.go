/*Package schedule provides the REST interface for the medication schedule

A schedule entry is one planned dispensing event for a box, with a due time
and a taken/untaken state. Entries are created by a scheduling collaborator,
taken exactly once by the person the box belongs to, and never deleted.

The API provides the following REST routes:

	POST /api/medication-schedule
	GET  /api/medication-schedule/{box_id}
	POST /api/medication-schedule/complete
	GET  /api/medication-history/{box_id}

The schedule route returns all untaken entries for the box ordered by due
time, soonest first; overdue and future entries are both included. The
history route returns all entries regardless of taken state, most recent
due time first, for reporting and statistics.

Completing an entry sets the taken flag and records the completion time with
the database clock. The operation is deliberately unguarded: it does not
check that the entry exists or is still untaken, repeated calls converge to
the same taken state (the taken time is overwritten) and always report
success.
*/
package schedule
