// Package config loads fluxctl configuration.
//
// fluxctl looks for fluxctl.json, fluxctl.yaml or fluxctl.yml in the working
// directory, or reads the file passed with --config. A missing default file
// is not an error: every field has a default. After the file, FLUXCTL_*
// environment variables override single fields, then Validate checks the
// result.
//
// Example fluxctl.yaml:
//
//	store:
//	  backend: file
//	  file:
//	    dir: ./data
//	codec: json
//	throttle: 250ms
//	server:
//	  addr: localhost:7070
//	  tokenSecret: change-me
//	  missCache: 2s
//	log:
//	  level: info
//	  format: text
//	derived:
//	  - name: user.name
//	    source: user
//	    path: $.name
package config
