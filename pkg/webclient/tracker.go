package webclient

type phase int

const (
	phaseStarting phase = iota
	phasePairing
	phaseReady
	phaseLoggedOut
	phaseRejected
)

type action int

const (
	actionQR action = iota
	actionAuthenticated
	actionReady
	actionLoggedOut
	actionAuthFailure
)

// probe is what one poll of the page reports.
type probe struct {
	QRRef string
	Ready bool
}

// tracker turns successive page probes into engine events. Each QR
// reference is reported once; a pairing screen seen after ready means the
// device was unlinked. When restoring is set the profile was paired before,
// so a pairing screen ahead of ready means the stored credentials were
// rejected.
type tracker struct {
	phase     phase
	lastRef   string
	restoring bool
}

func (t *tracker) observe(p probe) []action {
	switch t.phase {
	case phaseLoggedOut, phaseRejected:
		return nil

	case phaseReady:
		if !p.Ready && p.QRRef != "" {
			t.phase = phaseLoggedOut
			return []action{actionLoggedOut}
		}
		return nil
	}

	if p.Ready {
		t.phase = phaseReady
		return []action{actionAuthenticated, actionReady}
	}
	if p.QRRef != "" && t.restoring {
		t.phase = phaseRejected
		return []action{actionAuthFailure}
	}
	if p.QRRef != "" && p.QRRef != t.lastRef {
		t.phase = phasePairing
		t.lastRef = p.QRRef
		return []action{actionQR}
	}
	return nil
}

func (t *tracker) ready() bool {
	return t.phase == phaseReady
}
