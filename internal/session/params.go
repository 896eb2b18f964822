package session

import (
	"fmt"
	"strings"
)

// Param names one slot of a session record
type Param int

const (
	AppKey Param = iota
	NwkKey
	JoinRequestDevEUI
	JoinRequestJoinEUI
	JoinRequestDevNonce
	JoinAcceptAppNonce
	JoinAcceptNetID
	JoinAcceptDevAddr
	AppSKey
	NwkSKey
	NwkSEncKey
	SNwkSIntKey
	FNwkSIntKey

	numParams
)

var paramNames = [numParams]string{
	"AppKey",
	"NwkKey",
	"JoinRequest_DevEUI",
	"JoinRequest_JoinEUI",
	"JoinRequest_DevNonce",
	"JoinAccept_AppNonce",
	"JoinAccept_NetID",
	"JoinAccept_DevAddr",
	"AppSKey",
	"NwkSKey",
	"NwkSEncKey",
	"SNwkSIntKey",
	"FNwkSIntKey",
}

// LoRaWAN 1.0 name of the JoinEUI
const joinEUIAlias = "JoinRequest_AppEUI"

var paramWidths = [numParams]int{16, 16, 8, 8, 2, 3, 3, 4, 16, 16, 16, 16, 16}

func (p Param) String() string {
	if p >= 0 && p < numParams {
		return paramNames[p]
	}
	return fmt.Sprintf("Param(%d)", int(p))
}

// Width returns the value width in bytes
func (p Param) Width() int {
	if p >= 0 && p < numParams {
		return paramWidths[p]
	}
	return 0
}

// Params returns every parameter in record order
func Params() []Param {
	out := make([]Param, numParams)
	for i := range out {
		out[i] = Param(i)
	}
	return out
}

// ParseParam resolves a parameter name, case-insensitively
func ParseParam(name string) (Param, error) {
	if strings.EqualFold(name, joinEUIAlias) {
		return JoinRequestJoinEUI, nil
	}
	for i, n := range paramNames {
		if strings.EqualFold(name, n) {
			return Param(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// derived keys are cleared together
var derivedParams = []Param{AppSKey, NwkSKey, NwkSEncKey, SNwkSIntKey, FNwkSIntKey}

var joinAcceptParams = []Param{JoinAcceptAppNonce, JoinAcceptNetID, JoinAcceptDevAddr}
