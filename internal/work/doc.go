// Package work runs tool calls on a bounded worker pool.
//
// # Capacity
//
// Two limits apply to every job:
//   - a global weight shared by all tenants, sized from host memory and CPUs
//     unless configured
//   - a per-tenant weight so one tenant cannot hold every slot
//
// A job acquires its tenant slot first and then a global slot. Both waits
// honour the caller's context, so a caller deadline that expires while queued
// surfaces as quanterr.ErrDeadlineExceeded like one that expires mid-run.
//
// # Fan-out
//
// Fan runs independent stages of one job concurrently under a local limit.
// Stages never take pool slots, so a job that fans out cannot deadlock
// against its own tenant.
package work
