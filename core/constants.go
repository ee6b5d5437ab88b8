package core

// Severity is the level attached to a SystemEvent
type Severity string

const (
	// SeverityInfo is the default level for operational events
	SeverityInfo Severity = "INFO"
	// SeverityWarning marks recoverable failures and threshold breaches
	SeverityWarning Severity = "WARNING"
	// SeverityCritical marks confirmed security findings such as drift
	SeverityCritical Severity = "CRITICAL"
)

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the known levels
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// DefaultResponseAction is stored when an attack event carries no action
const DefaultResponseAction = "logged"

// System event tags emitted by the modules.
const (
	EventSystemStart      = "SYSTEM_START"
	EventSystemStop       = "SYSTEM_STOP"
	EventFirewallInit     = "FIREWALL_INIT"
	EventFirewallReady    = "FIREWALL_READY"
	EventFirewallSync     = "FIREWALL_SYNC"
	EventFirewallError    = "FIREWALL_ERROR"
	EventTripwireBaseline = "TRIPWIRE_BASELINE"
	EventTripwireMonitor  = "TRIPWIRE_MONITOR"
	EventFileModified     = "FILE_MODIFIED"
	EventHoneypotStart    = "HONEYPOT_START"
	EventHoneypotError    = "HONEYPOT_ERROR"
	EventThreatLoop       = "THREAT_LOOP"
	EventThreatUpdate     = "THREAT_UPDATE"
	EventThreatFeedError  = "THREAT_FEED_ERROR"
	EventMonitorStart     = "MONITOR_START"
	EventHighCPU          = "HIGH_CPU"
	EventHighMemory       = "HIGH_MEMORY"
	EventReverseShell     = "REVERSE_SHELL"
	EventAutoUpdate       = "AUTO_UPDATE"
	EventUpdateCheck      = "UPDATE_CHECK"
	EventUpdateAvailable  = "UPDATE_AVAILABLE"
	EventUpdateError      = "UPDATE_ERROR"
)
