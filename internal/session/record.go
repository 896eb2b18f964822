package session

import (
	"encoding"
	"fmt"

	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// Record is the parameter set of one session. A nil slot is unset.
type Record struct {
	AppKey *lorawan.AES128Key
	NwkKey *lorawan.AES128Key

	DevEUI   *lorawan.EUI64
	JoinEUI  *lorawan.EUI64
	DevNonce *lorawan.DevNonce

	AppNonce *lorawan.JoinNonce
	NetID    *lorawan.NetID
	DevAddr  *lorawan.DevAddr

	AppSKey     *lorawan.AES128Key
	NwkSKey     *lorawan.AES128Key
	NwkSEncKey  *lorawan.AES128Key
	SNwkSIntKey *lorawan.AES128Key
	FNwkSIntKey *lorawan.AES128Key
}

type slot interface {
	get() (string, bool)
	set(s string) error
	unset()
}

type textSlot[T any, PT interface {
	*T
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}] struct {
	p **T
}

func (f textSlot[T, PT]) get() (string, bool) {
	if *f.p == nil {
		return "", false
	}
	b, _ := PT(*f.p).MarshalText()
	return string(b), true
}

func (f textSlot[T, PT]) set(s string) error {
	v := new(T)
	if err := PT(v).UnmarshalText([]byte(s)); err != nil {
		return err
	}
	*f.p = v
	return nil
}

func (f textSlot[T, PT]) unset() {
	*f.p = nil
}

func field[T any, PT interface {
	*T
	encoding.TextMarshaler
	encoding.TextUnmarshaler
}](p **T) slot {
	return textSlot[T, PT]{p: p}
}

func (r *Record) slot(p Param) slot {
	switch p {
	case AppKey:
		return field(&r.AppKey)
	case NwkKey:
		return field(&r.NwkKey)
	case JoinRequestDevEUI:
		return field(&r.DevEUI)
	case JoinRequestJoinEUI:
		return field(&r.JoinEUI)
	case JoinRequestDevNonce:
		return field(&r.DevNonce)
	case JoinAcceptAppNonce:
		return field(&r.AppNonce)
	case JoinAcceptNetID:
		return field(&r.NetID)
	case JoinAcceptDevAddr:
		return field(&r.DevAddr)
	case AppSKey:
		return field(&r.AppSKey)
	case NwkSKey:
		return field(&r.NwkSKey)
	case NwkSEncKey:
		return field(&r.NwkSEncKey)
	case SNwkSIntKey:
		return field(&r.SNwkSIntKey)
	case FNwkSIntKey:
		return field(&r.FNwkSIntKey)
	}
	panic(fmt.Sprintf("session: unknown param %d", int(p)))
}

// Get returns the hex value of p and whether it is set
func (r *Record) Get(p Param) (string, bool) {
	return r.slot(p).get()
}

// Set parses value as p. A value of the wrong width is rejected with
// ErrInvalidValue and the record is left unchanged.
func (r *Record) Set(p Param, value string) error {
	if err := r.slot(p).set(value); err != nil {
		return fmt.Errorf("%w %s: %w", ErrInvalidValue, p, err)
	}
	return nil
}

// Unset clears p
func (r *Record) Unset(p Param) {
	r.slot(p).unset()
}

// Values returns the flat mapping of every parameter; unset ones map to ""
func (r *Record) Values() map[string]string {
	out := make(map[string]string, numParams)
	for _, p := range Params() {
		v, _ := r.Get(p)
		out[p.String()] = v
	}
	return out
}

// RecordFromValues rebuilds a record from its stored mapping. Unknown keys
// are ignored; values of the wrong width are reported as
// lorawan.ErrCorruptSessionState naming the field.
func RecordFromValues(values map[string]string) (*Record, error) {
	r := &Record{}
	for k, v := range values {
		if v == "" {
			continue
		}
		p, err := ParseParam(k)
		if err != nil {
			continue
		}
		if err := r.slot(p).set(v); err != nil {
			return nil, &lorawan.Error{Err: lorawan.ErrCorruptSessionState, Field: p.String(), Detail: err.Error()}
		}
	}
	return r, nil
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	c, _ := RecordFromValues(r.Values())
	return c
}

// RootKey returns AppKey, falling back to NwkKey
func (r *Record) RootKey() (lorawan.AES128Key, Param, bool) {
	if r.AppKey != nil {
		return *r.AppKey, AppKey, true
	}
	if r.NwkKey != nil {
		return *r.NwkKey, NwkKey, true
	}
	return lorawan.AES128Key{}, AppKey, false
}

// NwkRootKey returns NwkKey, falling back to AppKey
func (r *Record) NwkRootKey() (lorawan.AES128Key, bool) {
	if r.NwkKey != nil {
		return *r.NwkKey, true
	}
	if r.AppKey != nil {
		return *r.AppKey, true
	}
	return lorawan.AES128Key{}, false
}

// SetDerivedKeys stores the five session keys
func (r *Record) SetDerivedKeys(ks lorawan.DerivedKeySet) {
	r.AppSKey = &ks.AppSKey
	r.NwkSKey = &ks.NwkSKey
	r.NwkSEncKey = &ks.NwkSEncKey
	r.SNwkSIntKey = &ks.SNwkSIntKey
	r.FNwkSIntKey = &ks.FNwkSIntKey
}

// ClearDerivedKeys unsets the five session keys
func (r *Record) ClearDerivedKeys() {
	for _, p := range derivedParams {
		r.Unset(p)
	}
}

// ClearJoinAccept unsets AppNonce, NetID and DevAddr
func (r *Record) ClearJoinAccept() {
	for _, p := range joinAcceptParams {
		r.Unset(p)
	}
}

// HasDerivedKeys reports whether any session key is set
func (r *Record) HasDerivedKeys() bool {
	for _, p := range derivedParams {
		if _, ok := r.Get(p); ok {
			return true
		}
	}
	return false
}
