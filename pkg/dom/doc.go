// Package dom is the server-side model of the fortune page.
//
// A Document holds the elements the page binds to, addressed by element id.
// Each element has content (HTML or plain text) and a set of CSS classes. In
// the server-driven model the Document is the source of truth: browsers render
// a snapshot on first load and then apply the patches the Document emits.
//
// Every mutation is compared against the current state and produces the
// minimal protocol.Patch list for the change, which may be empty:
//
//	doc := dom.New()
//	doc.Observe(func(patches []protocol.Patch) { hub.Broadcast(patches) })
//
//	doc.Batch(func(tx *dom.Tx) {
//	    tx.SetText("connection", "connected")
//	    tx.AddClass("connection", "connected")
//	    tx.RemoveClass("connection", "disconnected")
//	})
//
// Observers are called synchronously, in mutation order, while the Document
// is locked. They must not call back into the Document.
package dom
