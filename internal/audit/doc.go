// Package audit records every manual feed dispatch in the dispatch_log
// table and lists them back for the API.
//
// It is an operator command trail. Telemetry is never written here.
package audit
