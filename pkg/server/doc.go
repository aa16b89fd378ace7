// Package server serves the teoweb page and keeps browsers in sync with the
// page document.
//
// The document is owned by Go. Every effective mutation becomes a
// FramePatches frame whose sequence number is the document version that
// produced it. Frames are written to every open session and kept in a
// PatchHistory ring. A browser that reconnects reports the last sequence it
// applied and receives the missed frames flagged FlagReplay, or a
// ControlResyncFull message when they are no longer available, in which
// case it reloads the page.
//
// Browsers send events for action elements. A click on an element whose id
// has an Action registered runs that action; the page's "next" button is
// bound to the binder's NextMessage this way.
//
// Routes:
//
//	GET  /                  page rendered from the document snapshot
//	GET  /_teoweb/client.js thin client (ETag cached)
//	GET  /_teoweb/ws        session websocket, ?seq=<last applied>
//	POST /api/{action}      run an action without the websocket
//	GET  /healthz           liveness
//	GET  /metrics           Prometheus metrics
package server
