// Package config loads teoweb configuration.
//
// Values are layered, later layers win:
//   - built-in defaults (see New)
//   - an optional teoweb.yaml or teoweb.json in the working directory, or the
//     file given with --config
//   - TEOWEB_* environment variables (TEOWEB_PROXY_HOST, TEOWEB_LOG_LEVEL, ...)
//   - command line flags bound with Load
//
// # Configuration File Structure
//
//	proxy:
//	  host: fortune-gui.teonet.dev
//	  peer: J4c0OciuN5R0cYfw652T9XkuvckAnUTJj5c
//	reconnect:
//	  initial: 1s
//	  multiplier: 2
//	  max: 30s
//	server:
//	  addr: :8080
//	broker:
//	  addr: :8090
//	  interval: 1s
//	log:
//	  level: info
//	  format: text
//
// # Usage
//
//	cfg, err := config.Load("", cmd.Flags())
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
package config
