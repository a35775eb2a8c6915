package models

// Candidate is a device seen on the local network, offered for registration.
type Candidate struct {
	IPAddress  string
	MACAddress string
	Hostname   string // empty when unresolved
}
