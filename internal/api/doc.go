// Package api serves the controller over HTTP.
//
// Every JSON response uses one envelope:
//
//	{"result": "ok", "data": {...}, "correlationId": "..."}
//	{"result": "error", "code": "BUSY", "message": "...", "correlationId": "..."}
//
// Read endpoints need the read scope, command endpoints the control scope and
// the telemetry streams the telemetry scope. Health and metrics are open.
package api
