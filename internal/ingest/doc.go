// Package ingest is the capture core's service object. It is built once
// at startup and owns the path from broker to disk:
//
//	broker messages -> topic registry -> router -> session store
//	                                          \-> time-series mirror
//
// The Service also exposes the operations the outer API layer calls
// (RegisterSession, EndSession, GetTopics, ...) and a fan-out channel of
// connection and message events. Events are delivered without blocking;
// a slow reader loses events rather than stalling ingestion.
package ingest
