package errors

// Template defines a registered error type.
type Template struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]Template{
	// ============================================
	// Config Errors (F001-F019)
	// ============================================

	"F001": {
		Category: CategoryConfig,
		Message:  "Config file not found",
		Detail:   "The config file passed with --config does not exist.",
	},
	"F002": {
		Category: CategoryConfig,
		Message:  "Invalid config syntax",
		Detail:   "The config file could not be parsed as JSON or YAML.",
	},
	"F003": {
		Category: CategoryConfig,
		Message:  "Invalid config value",
		Detail:   "A config field holds a value fluxctl cannot use.",
	},
	"F004": {
		Category: CategoryConfig,
		Message:  "Unknown store backend",
		Detail:   "store.backend must name one of the supported backends.",
	},
	"F005": {
		Category: CategoryConfig,
		Message:  "Unknown codec",
		Detail:   "codec must be json or yaml.",
	},
	"F006": {
		Category: CategoryConfig,
		Message:  "Invalid derived node",
		Detail:   "A derived node needs a name, a source key and exactly one of path or script.",
	},

	// ============================================
	// Storage Errors (F020-F039)
	// ============================================

	"F020": {
		Category: CategoryStorage,
		Message:  "Store unavailable",
		Detail:   "The configured store could not be opened or did not answer a probe.",
	},
	"F021": {
		Category: CategoryStorage,
		Message:  "Store operation failed",
		Detail:   "Reading or writing the store failed.",
	},
	"F022": {
		Category: CategoryStorage,
		Message:  "SQL driver not registered",
		Detail:   "No database/sql driver is registered under the configured name.",
	},

	// ============================================
	// CLI Errors (F040-F059)
	// ============================================

	"F040": {
		Category: CategoryCLI,
		Message:  "Invalid value",
		Detail:   "Values are parsed as JSON. Bare words are taken as strings.",
	},
	"F041": {
		Category: CategoryCLI,
		Message:  "Key not found",
		Detail:   "The store holds no value for this key.",
	},
	"F042": {
		Category: CategoryCLI,
		Message:  "Invalid path expression",
		Detail:   "The JSONPath expression could not be parsed.",
	},
	"F043": {
		Category: CategoryCLI,
		Message:  "Not authorized",
		Detail:   "The server requires a valid bearer token for writes.",
	},

	// ============================================
	// Network Errors (F060-F079)
	// ============================================

	"F060": {
		Category: CategoryNetwork,
		Message:  "Server unreachable",
		Detail:   "fluxctl could not connect to the server.",
	},
	"F061": {
		Category: CategoryNetwork,
		Message:  "Watch stream closed",
		Detail:   "The server closed the watch stream.",
	},
}

// Codes returns all registered error codes.
func Codes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// Lookup returns the template for an error code.
func Lookup(code string) (Template, bool) {
	t, ok := registry[code]
	return t, ok
}
