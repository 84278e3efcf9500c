package model

import "github.com/rotisserie/eris"

// ManifestationType is a manifestation request kind. Each maps to a remote
// event name and a terminal ManifestationStatus; any type may be requested
// regardless of the document's current status (re-manifestation overwrites).
type ManifestationType string

const (
	ManifestAcknowledge ManifestationType = "acknowledged"
	ManifestConfirm     ManifestationType = "confirmed"
	ManifestUnknown     ManifestationType = "unknown"
	ManifestUnrealized  ManifestationType = "unrealized"
)

// ParseManifestationType validates a manifestation type string.
func ParseManifestationType(s string) (ManifestationType, error) {
	switch ManifestationType(s) {
	case ManifestAcknowledge, ManifestConfirm, ManifestUnknown, ManifestUnrealized:
		return ManifestationType(s), nil
	default:
		return "", eris.Errorf("unknown manifestation type: %q (valid: acknowledged, confirmed, unknown, unrealized)", s)
	}
}

// RemoteEvent returns the event name the distribution API expects.
func (t ManifestationType) RemoteEvent() string {
	switch t {
	case ManifestAcknowledge:
		return "ciencia"
	case ManifestConfirm:
		return "confirmacao"
	case ManifestUnknown:
		return "desconhecimento"
	case ManifestUnrealized:
		return "nao_realizada"
	default:
		return ""
	}
}

// Description returns the human-readable event description used in audit records.
func (t ManifestationType) Description() string {
	switch t {
	case ManifestAcknowledge:
		return "Ciência da Operação"
	case ManifestConfirm:
		return "Confirmação da Operação"
	case ManifestUnknown:
		return "Desconhecimento da Operação"
	case ManifestUnrealized:
		return "Operação Não Realizada"
	default:
		return ""
	}
}

// Status returns the local manifestation status recorded on success.
func (t ManifestationType) Status() ManifestationStatus {
	return ManifestationStatus(t)
}

// RequiresJustification reports whether the type is a negative declaration
// that legally requires a justification text.
func (t ManifestationType) RequiresJustification() bool {
	return t == ManifestUnknown || t == ManifestUnrealized
}
