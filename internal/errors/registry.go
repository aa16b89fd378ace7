package errors

// Registered error codes.
const (
	// Proxy errors (E100-E199)
	CodeDialFailed      = "E101"
	CodeHandshakeFailed = "E102"
	CodePeerRejected    = "E103"
	CodeNotConnected    = "E104"
	CodeSendFailed      = "E105"
	CodeMalformedPacket = "E106"

	// Binder errors (E200-E299)
	CodeActionFailed   = "E202"
	CodeRetryExhausted = "E203"

	// Config errors (E300-E399)
	CodeConfigLoad    = "E301"
	CodeConfigInvalid = "E302"

	// Server errors (E400-E499)
	CodeListenFailed  = "E401"
	CodeUpgradeFailed = "E402"
	CodeBrokerFailed  = "E403"
)

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Detail     string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Proxy Errors (E100-E199)
	// ============================================

	CodeDialFailed: {
		Category:   CategoryProxy,
		Message:    "Proxy dial failed",
		Detail:     "The websocket connection to the Teonet proxy could not be opened.",
		Suggestion: "Check that the proxy host is reachable and serves /ws",
	},
	CodeHandshakeFailed: {
		Category: CategoryProxy,
		Message:  "Proxy handshake failed",
		Detail:   "The proxy did not answer the connect request in time or closed the connection.",
	},
	CodePeerRejected: {
		Category:   CategoryProxy,
		Message:    "Peer rejected",
		Detail:     "The proxy could not connect to the requested Teonet peer.",
		Suggestion: "Check the broker peer address",
	},
	CodeNotConnected: {
		Category: CategoryProxy,
		Message:  "Not connected",
		Detail:   "The proxy client has no open connection.",
	},
	CodeSendFailed: {
		Category: CategoryProxy,
		Message:  "Send failed",
		Detail:   "A packet could not be written to the proxy connection.",
	},
	CodeMalformedPacket: {
		Category: CategoryProxy,
		Message:  "Malformed packet",
		Detail:   "A packet received from the proxy could not be decoded.",
	},

	// ============================================
	// Binder Errors (E200-E299)
	// ============================================

	CodeActionFailed: {
		Category: CategoryBinder,
		Message:  "Page action failed",
		Detail:   "The action requested by the page could not be sent to the broker.",
	},
	CodeRetryExhausted: {
		Category: CategoryBinder,
		Message:  "Reconnect policy exhausted",
		Detail:   "The reconnect policy gave up before a connection was established.",
	},

	// ============================================
	// Config Errors (E300-E399)
	// ============================================

	CodeConfigLoad: {
		Category:   CategoryConfig,
		Message:    "Config load failed",
		Detail:     "The configuration file exists but could not be read or parsed.",
		Suggestion: "Check teoweb.yaml for syntax errors",
	},
	CodeConfigInvalid: {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
	},

	// ============================================
	// Server Errors (E400-E499)
	// ============================================

	CodeListenFailed: {
		Category:   CategoryServer,
		Message:    "Listen failed",
		Detail:     "The HTTP server could not bind its address.",
		Suggestion: "Use --addr to pick a free port",
	},
	CodeUpgradeFailed: {
		Category: CategoryServer,
		Message:  "Websocket upgrade failed",
	},
	CodeBrokerFailed: {
		Category: CategoryServer,
		Message:  "Broker failed",
		Detail:   "The local broker stopped with an error.",
	},
}
