package model

// EnvEntry is one row of the environment table shown to dashboard clients.
type EnvEntry struct {
	Parameter string `json:"Parameter"`
	Value     string `json:"Value"`
}

// Environment parameter names, in display order.
const (
	EnvCommandLine   = "Command Line"
	EnvHostname      = "Hostname"
	EnvNumProcessors = "Number of Processors"
	EnvOSArch        = "OS Architecture"
)
