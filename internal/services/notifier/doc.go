// Package notifier is an umbrella for assignment notification delivery.
//
// The package is organized into four subpackages:
//   - domain: Defines the notification job and retry policy.
//   - dispatch: Builds one job per session turn and enqueues it without
//     blocking the response path.
//   - storage: Persists the job outbox (SQLite-backed).
//   - app: Runs the background delivery loop that drains the outbox into
//     the analytics backend.
package notifier
