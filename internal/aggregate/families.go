package aggregate

// Metric family names and help strings shared by every exposition surface.
const (
	OSCPUUsedRatio      = "os_cpu_used_ratio"
	ProcessCPUUsedRatio = "process_cpu_used_ratio"
	OSResidentMemory    = "os_resident_memory_bytes"
	ProcessResident     = "process_resident_memory_bytes"
	ProcessVirtual      = "process_virtual_memory_bytes"
	HTTPRequestsTotal   = "http_requests_total"
	HTTPRequestErrors   = "http_request_errors_total"
	HTTPRequestDuration = "http_request_duration_microseconds"
)

// Help returns the description for a family name.
func Help(name string) string {
	switch name {
	case OSCPUUsedRatio:
		return "The ratio of the systems CPU that is currently used (values are 0-1)"
	case ProcessCPUUsedRatio:
		return "The ratio of the process CPU that is currently used (values are 0-1)"
	case OSResidentMemory:
		return "OS memory size in bytes."
	case ProcessResident:
		return "Resident memory size in bytes."
	case ProcessVirtual:
		return "Virtual memory size in bytes."
	case HTTPRequestsTotal:
		return "Total number of HTTP requests made."
	case HTTPRequestErrors:
		return "Total number of HTTP requests that failed."
	case HTTPRequestDuration:
		return "The HTTP request latencies in microseconds."
	default:
		return ""
	}
}

// Label names used by the HTTP families.
const (
	LabelMethod     = "method"
	LabelPath       = "path"
	LabelStatusCode = "status_code"
)
