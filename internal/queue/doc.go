// Package queue is the durable reminder job queue: one-shot delayed jobs and
// cron-driven repeatable jobs, both keyed by reminder id.
//
// The queue is responsible only for:
//   - registering and replacing triggers (last write wins per id)
//   - persisting registrations so they survive a worker restart
//   - executing fired jobs on bounded per-kind worker pools
//
// What a fired job means is decided by the registered handlers (dispatch,
// completion checks, reminder maintenance).
package queue
