// Package approval implements the human-in-the-loop gate. Drafts are
// enqueued against tasks in Pending_Approval and external execution hooks
// run only after an approve decision has been recorded.
package approval
