// Package observability turns the cron ladder log into stored events and
// alerts. It tails the source log, parses each line into a CronEvent,
// derives windowed statistics from the store, and delivers failure
// notifications to the desktop or a webhook.
package observability
