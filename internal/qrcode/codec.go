// Package qrcode encodes ticket payloads into scannable PNG images and decodes them back.
package qrcode

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	goqr "github.com/skip2/go-qrcode"
)

const (
	// ImageSize is the edge length in pixels of generated QR images.
	ImageSize = 256
	// DataURLPrefix prefixes every data URL produced by EncodeDataURL.
	DataURLPrefix = "data:image/png;base64,"
)

var (
	ErrEmptyTicketID = errors.New("qr payload has no ticket id")
	ErrNoCode        = errors.New("no qr code found in image")
)

// Payload is the structured content of a ticket QR code.
type Payload struct {
	TicketID   string `json:"ticketId"`
	EventID    string `json:"eventId,omitempty"`
	HolderName string `json:"name,omitempty"`
	EventName  string `json:"event,omitempty"`
}

// Marshal returns the compact JSON text embedded in the QR code.
func Marshal(p Payload) (string, error) {
	if strings.TrimSpace(p.TicketID) == "" {
		return "", ErrEmptyTicketID
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Parse reads a structured payload. It fails on anything that is not a JSON object
// with a ticket id.
func Parse(text string) (Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &p); err != nil {
		return Payload{}, fmt.Errorf("parse qr payload: %w", err)
	}
	p.TicketID = strings.TrimSpace(p.TicketID)
	if p.TicketID == "" {
		return Payload{}, ErrEmptyTicketID
	}
	return p, nil
}

// Decode resolves scanned or typed text. A structured payload wins; otherwise the
// trimmed text is taken as a bare ticket id. ok is false only for blank input.
func Decode(text string) (Payload, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Payload{}, false
	}
	if strings.HasPrefix(text, "{") {
		if p, err := Parse(text); err == nil {
			return p, true
		}
	}
	return Payload{TicketID: text}, true
}

// Encode renders p as a PNG QR image.
func Encode(p Payload) ([]byte, error) {
	text, err := Marshal(p)
	if err != nil {
		return nil, err
	}
	png, err := goqr.Encode(text, goqr.Medium, ImageSize)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// EncodeDataURL renders p as a base64 PNG data URL, the form stored on tickets.
func EncodeDataURL(p Payload) (string, error) {
	png, err := Encode(p)
	if err != nil {
		return "", err
	}
	return DataURLPrefix + base64.StdEncoding.EncodeToString(png), nil
}

// ScanImage returns the raw text of the QR code found in an encoded image.
func ScanImage(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize image: %w", err)
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// DecodeImage scans an image and applies Decode to its text.
func DecodeImage(data []byte) (Payload, error) {
	text, err := ScanImage(data)
	if err != nil {
		return Payload{}, err
	}
	p, ok := Decode(text)
	if !ok {
		return Payload{}, ErrNoCode
	}
	return p, nil
}

// DecodeDataURL accepts a base64 image data URL (any image type) or bare base64 and decodes it.
func DecodeDataURL(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return Payload{}, errors.New("qr data url is not base64")
		}
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Payload{}, fmt.Errorf("decode base64: %w", err)
	}
	return DecodeImage(raw)
}
