package api

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zentalk/ratchetcore/pkg/addr"
	"github.com/zentalk/ratchetcore/pkg/rcerr"
	"github.com/zentalk/ratchetcore/pkg/wire"
)

// signalMessageDTO is the JSON wire shape of a wire.SignalMessage; byte
// arrays travel as base64, matching the teacher's upload.go convention of
// base64-encoding binary payloads inside JSON requests.
type signalMessageDTO struct {
	MessageVersion   byte   `json:"messageVersion"`
	SenderRatchetKey string `json:"senderRatchetKey"`
	Counter          uint32 `json:"counter"`
	PreviousCounter  uint32 `json:"previousCounter"`
	CipherText       string `json:"cipherText"`
	Mac              string `json:"mac"`
}

// preKeyMessageDTO is the JSON wire shape of a wire.PreKeySignalMessage.
type preKeyMessageDTO struct {
	MessageVersion byte              `json:"messageVersion"`
	RegistrationID uint32            `json:"registrationId"`
	PreKeyID       *uint32           `json:"preKeyId,omitempty"`
	SignedPreKeyID uint32            `json:"signedPreKeyId"`
	BaseKey        string            `json:"baseKey"`
	IdentityKey    string            `json:"identityKey"`
	InnerMessage   signalMessageDTO `json:"innerMessage"`
}

// envelopeDTO is the JSON wire shape of a wire.Envelope: exactly one of
// Signal or PreKey is populated.
type envelopeDTO struct {
	Signal *signalMessageDTO `json:"signal,omitempty"`
	PreKey *preKeyMessageDTO `json:"prekey,omitempty"`
}

func decodeB64(field, s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New(field + " must be base64 encoded")
	}
	return b, nil
}

func decode32(field, s string) ([32]byte, error) {
	var out [32]byte
	b, err := decodeB64(field, s)
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, errors.New(field + " must decode to 32 bytes")
	}
	copy(out[:], b)
	return out, nil
}

func signalFromDTO(dto signalMessageDTO) (*wire.SignalMessage, error) {
	ratchetKey, err := decode32("senderRatchetKey", dto.SenderRatchetKey)
	if err != nil {
		return nil, err
	}
	cipherText, err := decodeB64("cipherText", dto.CipherText)
	if err != nil {
		return nil, err
	}
	macBytes, err := decodeB64("mac", dto.Mac)
	if err != nil {
		return nil, err
	}
	if len(macBytes) != wire.MacLen {
		return nil, errors.New("mac must decode to 8 bytes")
	}
	msg := &wire.SignalMessage{
		MessageVersion:   dto.MessageVersion,
		SenderRatchetKey: ratchetKey,
		Counter:          dto.Counter,
		PreviousCounter:  dto.PreviousCounter,
		CipherText:       cipherText,
	}
	copy(msg.Mac[:], macBytes)
	return msg, nil
}

func signalToDTO(msg *wire.SignalMessage) signalMessageDTO {
	return signalMessageDTO{
		MessageVersion:   msg.MessageVersion,
		SenderRatchetKey: base64.StdEncoding.EncodeToString(msg.SenderRatchetKey[:]),
		Counter:          msg.Counter,
		PreviousCounter:  msg.PreviousCounter,
		CipherText:       base64.StdEncoding.EncodeToString(msg.CipherText),
		Mac:              base64.StdEncoding.EncodeToString(msg.Mac[:]),
	}
}

func envelopeFromDTO(dto envelopeDTO) (wire.Envelope, error) {
	switch {
	case dto.Signal != nil && dto.PreKey == nil:
		msg, err := signalFromDTO(*dto.Signal)
		if err != nil {
			return wire.Envelope{}, err
		}
		return wire.Envelope{Signal: msg}, nil
	case dto.PreKey != nil && dto.Signal == nil:
		baseKey, err := decode32("baseKey", dto.PreKey.BaseKey)
		if err != nil {
			return wire.Envelope{}, err
		}
		identityKey, err := decode32("identityKey", dto.PreKey.IdentityKey)
		if err != nil {
			return wire.Envelope{}, err
		}
		inner, err := signalFromDTO(dto.PreKey.InnerMessage)
		if err != nil {
			return wire.Envelope{}, err
		}
		return wire.Envelope{PreKey: &wire.PreKeySignalMessage{
			MessageVersion: dto.PreKey.MessageVersion,
			RegistrationID: dto.PreKey.RegistrationID,
			PreKeyID:       dto.PreKey.PreKeyID,
			SignedPreKeyID: dto.PreKey.SignedPreKeyID,
			BaseKey:        baseKey,
			IdentityKey:    identityKey,
			InnerMessage:   *inner,
		}}, nil
	default:
		return wire.Envelope{}, errors.New("exactly one of signal or prekey must be set")
	}
}

func envelopeToDTO(env wire.Envelope) envelopeDTO {
	var dto envelopeDTO
	if env.Signal != nil {
		s := signalToDTO(env.Signal)
		dto.Signal = &s
	}
	if env.PreKey != nil {
		dto.PreKey = &preKeyMessageDTO{
			MessageVersion: env.PreKey.MessageVersion,
			RegistrationID: env.PreKey.RegistrationID,
			PreKeyID:       env.PreKey.PreKeyID,
			SignedPreKeyID: env.PreKey.SignedPreKeyID,
			BaseKey:        base64.StdEncoding.EncodeToString(env.PreKey.BaseKey[:]),
			IdentityKey:    base64.StdEncoding.EncodeToString(env.PreKey.IdentityKey[:]),
			InnerMessage:   signalToDTO(&env.PreKey.InnerMessage),
		}
	}
	return dto
}

func remoteAddressFromPath(c *gin.Context) (addr.ProtocolAddress, error) {
	name := c.Param("name")
	deviceID, err := strconv.ParseUint(c.Param("deviceId"), 10, 32)
	if err != nil {
		return addr.ProtocolAddress{}, errors.New("deviceId must be a non-negative integer")
	}
	return addr.New(name, uint32(deviceID)), nil
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, rcerr.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, rcerr.ErrInvalidArgument), errors.Is(err, rcerr.ErrInvalidSessionStructure):
		return http.StatusBadRequest
	case rcerr.IsDuplicatedMessage(err):
		return http.StatusConflict
	default:
		var untrusted *rcerr.UntrustedIdentityError
		if errors.As(err, &untrusted) {
			return http.StatusForbidden
		}
		return http.StatusUnprocessableEntity
	}
}

// encryptRequest/encryptResponse carry base64 plaintext, matching the
// teacher's base64-in-JSON convention for binary payloads.
type encryptRequest struct {
	Plaintext string `json:"plaintext" binding:"required"`
}

type encryptResponse struct {
	Envelope envelopeDTO `json:"envelope"`
}

func (s *Server) handleEncrypt(c *gin.Context) {
	remote, err := remoteAddressFromPath(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid address", Message: err.Error()})
		return
	}

	var req encryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}
	plaintext, err := decodeB64("plaintext", req.Plaintext)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid plaintext", Message: err.Error()})
		return
	}

	envelope, err := s.cipher.Encrypt(c.Request.Context(), remote, plaintext)
	if err != nil {
		c.JSON(statusForError(err), ErrorResponse{Error: "encrypt failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, encryptResponse{Envelope: envelopeToDTO(envelope)})
}

type decryptRequest struct {
	Envelope envelopeDTO `json:"envelope" binding:"required"`
}

type decryptResponse struct {
	Plaintext string `json:"plaintext"`
}

func (s *Server) handleDecrypt(c *gin.Context) {
	remote, err := remoteAddressFromPath(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid address", Message: err.Error()})
		return
	}

	var req decryptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request", Message: err.Error()})
		return
	}
	envelope, err := envelopeFromDTO(req.Envelope)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid envelope", Message: err.Error()})
		return
	}

	plaintext, err := s.cipher.Decrypt(c.Request.Context(), remote, envelope)
	if err != nil {
		c.JSON(statusForError(err), ErrorResponse{Error: "decrypt failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, decryptResponse{Plaintext: base64.StdEncoding.EncodeToString(plaintext)})
}

type sessionInfoResponse struct {
	RemoteRegistrationID uint32 `json:"remoteRegistrationId"`
	SessionVersion       byte   `json:"sessionVersion"`
}

func (s *Server) handleSessionInfo(c *gin.Context) {
	remote, err := remoteAddressFromPath(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid address", Message: err.Error()})
		return
	}

	regID, err := s.cipher.RemoteRegistrationID(c.Request.Context(), remote)
	if err != nil {
		c.JSON(statusForError(err), ErrorResponse{Error: "session lookup failed", Message: err.Error()})
		return
	}
	version, err := s.cipher.SessionVersion(c.Request.Context(), remote)
	if err != nil {
		c.JSON(statusForError(err), ErrorResponse{Error: "session lookup failed", Message: err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessionInfoResponse{RemoteRegistrationID: regID, SessionVersion: version})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
