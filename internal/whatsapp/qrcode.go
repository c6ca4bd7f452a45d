package whatsapp

import (
	"encoding/base64"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

// encodeQR renders a pairing code as a PNG data URL.
func encodeQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", errors.Wrap(err, "encode qr")
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
