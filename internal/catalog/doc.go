// Package catalog stores the capture service's local bookkeeping in SQLite:
// topics seen on the broker, the last bridge device list and a journal of
// capture sessions.
//
// Session data itself lives in the per-session JSON files; the catalog only
// lets the topic registry survive restarts and records which sessions were
// running when the process last stopped.
package catalog
