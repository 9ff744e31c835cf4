// Package notifier delivers task notices to chat.
//
// Direct and Broadcast are synchronous: the caller bounds them with its
// context and learns whether delivery worked. Enqueue feeds a queue drained
// by a small worker pool for fire-and-forget posts such as audit mirrors.
// Both paths share one rate limiter and the same jittered retry policy.
//
// Broadcast messages expire: their deletion is handed to the scheduler, so
// an expiry pending at shutdown is simply dropped.
package notifier
