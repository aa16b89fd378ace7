// Package clientdist embeds the browser thin client.
package clientdist

import _ "embed"

// TeowebJS is the thin client served at "/_teoweb/client.js". It applies
// patch frames to the page and sends click events for action elements.
//
//go:embed teoweb.js
var TeowebJS []byte
