// Package capture decides which active sessions keep each inbound message
// and writes it to disk.
//
// Three pieces cooperate:
//
//   - Router matches a message against every active session's device
//     filters (catch-all, exact topic, prefix wildcard, substring).
//   - Store persists a captured message through the primary session file
//     (batched), the per-device file and the flat consolidated file, and
//     takes snapshot backups of the primary file.
//   - Controller owns the active-session set: it builds the directory
//     layout on Start, runs one cancellable backup loop per session and
//     finalises on End, falling back to an emergency record if the
//     primary file cannot be updated.
//
// Every file is replaced atomically (write to <file>.tmp, then rename, or
// copy when rename fails). Write failures are isolated per tier and logged;
// nothing here returns an error to the message path.
//
// On-disk layout per session:
//
//	sessions/Session<id>/
//	  session_<id>_data.json                  primary (or the caller's dataFilePath)
//	  session_<id>_export_summary.json
//	  session_<id>_emergency_end.json         only when finalisation failed
//	  backup/session_<id>_data.json           named backup, restore source
//	  backup/session_<id>_backup_<ts>.json    rotated
//	  backup/session_<id>_final_<ts>.json
//	  sensor_data/<deviceId>.json             capped per device
//	  sensor_data/sensor_data.json            flat, capped
//	  logs/session_<id>_log.txt
package capture
