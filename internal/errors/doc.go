// Package errors provides structured, actionable errors for fluxctl.
//
// Every error carries a code that maps to a registered template with a
// category, a short message and a longer explanation. Call sites add a
// suggestion and wrap the underlying cause:
//
//	err := errors.New("F004").
//	    WithDetail(`store.backend is "mongo"`).
//	    WithSuggestion("Use one of: memory, file, sql, redis, s3").
//	    Wrap(cause)
//
//	fmt.Print(err.Format())
//	// Output:
//	// ERROR F004: Unknown store backend
//	//
//	//   store.backend is "mongo"
//	//
//	//   Hint: Use one of: memory, file, sql, redis, s3
//
// # Categories
//
//   - config: fluxctl.json / fluxctl.yaml problems
//   - storage: backend connection and I/O failures
//   - cli: bad arguments and flags
//   - network: HTTP and watch stream failures
package errors
