package analyzer

import (
	"fmt"

	"github.com/lorawan-server/lorawan-tester/internal/models"
	"github.com/lorawan-server/lorawan-tester/pkg/lorawan"
)

// Keys are the optional keys Describe uses to verify and decrypt
type Keys struct {
	Root    *lorawan.AES128Key // AppKey or NwkKey, join frames
	NwkSKey *lorawan.AES128Key // data MIC, port 0 payloads
	AppSKey *lorawan.AES128Key // application payloads
}

// Describe decodes one frame into a record without touching any session.
// MICs are checked and payloads decrypted when the matching key is given;
// the frame counter is taken as the 16 bit wire value.
func Describe(data []byte, keys Keys) (*models.FrameRecord, error) {
	out := models.NewFrameRecord(models.CapturedFrame{PHYPayload: data, Source: "describe"})

	p, err := lorawan.Decode(data, keys.Root)
	if err != nil {
		out.Result = models.ResultDecodeError
		out.Error = err.Error()
		return out, fmt.Errorf("decode: %w", err)
	}
	out.MType = p.MHDR.MType.String()
	out.MIC = p.MIC.String()

	switch mt := p.MHDR.MType; {
	case mt == lorawan.JoinRequest:
		jr := p.JoinRequest()
		out.DevEUI = jr.DevEUI.String()
		out.JoinEUI = jr.JoinEUI.String()
		out.DevNonce = jr.DevNonce.String()
		if keys.Root != nil {
			valid, err := p.ValidateJoinMIC(*keys.Root)
			if err != nil {
				return out, err
			}
			out.MICValid = &valid
		}

	case mt == lorawan.JoinAccept:
		ja := p.JoinAccept()
		if !ja.Decrypted {
			out.MIC = ""
			out.Result = models.ResultDecryptUnavailable
			out.Note("join accept is encrypted, pass the root key to decrypt")
			return out, nil
		}
		out.AppNonce = ja.AppNonce.String()
		out.NetID = ja.NetID.String()
		out.DevAddr = ja.DevAddr.String()
		valid, err := p.ValidateJoinMIC(*keys.Root)
		if err != nil {
			return out, err
		}
		out.MICValid = &valid
		if !valid {
			out.Result = models.ResultMICMismatch
		}

	case mt.IsData():
		mac := p.MACPayload()
		dir := mt.Direction()
		fCnt := uint32(mac.FHDR.FCnt)
		out.DevAddr = mac.FHDR.DevAddr.String()
		out.FCnt = &fCnt
		out.FPort = mac.FPort
		out.ACK = mac.FHDR.FCtrl.ACK
		out.FOpts = mac.FHDR.FOpts
		out.FRMPayload = mac.FRMPayload

		var cmds []lorawan.MACCommand
		if len(mac.FHDR.FOpts) > 0 {
			cmds, _ = lorawan.ParseMACCommands(dir, mac.FHDR.FOpts)
		}

		if keys.NwkSKey != nil {
			valid, err := p.ValidateDataMIC(*keys.NwkSKey, 0)
			if err != nil {
				return out, err
			}
			out.MICValid = &valid
			if !valid {
				out.Result = models.ResultMICMismatch
			}
		}

		if mac.FPort != nil && len(mac.FRMPayload) > 0 {
			key := keys.AppSKey
			if *mac.FPort == 0 {
				key = keys.NwkSKey
			}
			if key == nil {
				if out.Result == models.ResultOK {
					out.Result = models.ResultDecryptUnavailable
				}
			} else {
				plain, err := mac.DecryptFRMPayload(*key, dir, 0)
				if err != nil {
					return out, err
				}
				out.Plaintext = plain
				out.Text = models.Printable(plain)
				if *mac.FPort == 0 {
					more, _ := lorawan.ParseMACCommands(dir, plain)
					cmds = append(cmds, more...)
				}
			}
		}
		for _, c := range cmds {
			out.MACCommands = append(out.MACCommands, c.String())
		}

	default:
		out.Note("opaque payload")
	}
	return out, nil
}
