package ucs

import (
	"encoding/xml"
	"strings"

	"github.com/mufaddalq/cloudstack42-datera-driver/pkg/remote"
)

// AssociationState is the controller-reported binding state of a blade
// or profile.
type AssociationState string

const (
	AssociationNone        AssociationState = "none"
	AssociationAssociating AssociationState = "associating"
	AssociationAssociated  AssociationState = "associated"
)

// ComputeBlade is one physical blade as reported by the controller.
type ComputeBlade struct {
	Dn           string `xml:"dn,attr"`
	AssignedToDn string `xml:"assignedToDn,attr"`
	Association  string `xml:"association,attr"`
	Model        string `xml:"model,attr"`
	NumCores     string `xml:"numOfCores,attr"`
	TotalMemory  string `xml:"totalMemory,attr"`
}

// Assigned reports whether the controller shows a profile bound to the
// blade. An empty assignedToDn means unassigned.
func (b ComputeBlade) Assigned() bool {
	return b.AssignedToDn != ""
}

// Profile is one lsServer object: a service profile or a profile
// template, distinguished by Type.
type Profile struct {
	Dn         string `xml:"dn,attr"`
	Type       string `xml:"type,attr"`
	AssocState string `xml:"assocState,attr"`
}

// IsTemplate reports whether the profile is an initial or updating
// template rather than an instance.
func (p Profile) IsTemplate() bool {
	return strings.HasSuffix(p.Type, "-template")
}

// envelope is the generic response shape: one root element whose
// attributes carry the outcome and whose children carry resolved
// objects.
type envelope struct {
	XMLName    xml.Name
	Cookie     string     `xml:"outCookie,attr"`
	OutDn      string     `xml:"outDn,attr"`
	ErrorCode  string     `xml:"errorCode,attr"`
	ErrorDescr string     `xml:"errorDescr,attr"`
	OutConfigs *objectSet `xml:"outConfigs"`
	OutConfig  *objectSet `xml:"outConfig"`
}

type objectSet struct {
	Blades   []ComputeBlade `xml:"computeBlade"`
	Profiles []Profile      `xml:"lsServer"`
}

// controller error codes with a recognized meaning
const errCodeNotFound = "ERR-MO-NOT-FOUND"

// decodeEnvelope parses a raw response body and classifies
// controller-reported errors.
func decodeEnvelope(body []byte) (*envelope, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, remote.NewProtocolError("undecodable controller response", 0, string(body))
	}

	if env.ErrorCode != "" {
		if env.ErrorCode == errCodeNotFound {
			return nil, remote.NewNotFoundError(env.ErrorDescr)
		}
		return nil, remote.NewProtocolError("controller error "+env.ErrorCode+": "+env.ErrorDescr, 0, string(body))
	}

	return &env, nil
}

func (e *envelope) objects() *objectSet {
	if e.OutConfigs != nil {
		return e.OutConfigs
	}
	if e.OutConfig != nil {
		return e.OutConfig
	}
	return &objectSet{}
}

// firstProfile returns the single resolved lsServer object, or a
// not_found error when the response carried none.
func (e *envelope) firstProfile() (*Profile, error) {
	objs := e.objects()
	if len(objs.Profiles) == 0 {
		return nil, remote.NewNotFoundError("no service profile in controller response")
	}
	return &objs.Profiles[0], nil
}

// firstBlade returns the single resolved computeBlade object, or a
// not_found error when the response carried none.
func (e *envelope) firstBlade() (*ComputeBlade, error) {
	objs := e.objects()
	if len(objs.Blades) == 0 {
		return nil, remote.NewNotFoundError("no compute blade in controller response")
	}
	return &objs.Blades[0], nil
}
