package model

type PairingStatus string

const (
	PairingStatusPending PairingStatus = "pending"
	PairingStatusClaimed PairingStatus = "claimed"
	// PairingStatusExpired is derived at read time and never stored.
	PairingStatusExpired PairingStatus = "expired"
)

// IsTerminal reports whether no further transition can leave the status.
func (s PairingStatus) IsTerminal() bool {
	return s == PairingStatusClaimed || s == PairingStatusExpired
}

func (s PairingStatus) Valid() bool {
	switch s {
	case PairingStatusPending, PairingStatusClaimed, PairingStatusExpired:
		return true
	}
	return false
}
