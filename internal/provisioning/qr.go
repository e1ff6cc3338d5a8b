package provisioning

import (
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the rendered image edge in pixels.
const DefaultQRSize = 512

// QRCode renders the payload as a PNG.
func (p *Payload) QRCode(size int) ([]byte, error) {
	content, err := p.Encode()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(string(content), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render QR code: %w", err)
	}
	return png, nil
}
