package deposit

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/yeqown/go-qrcode"
	"go.uber.org/zap"

	"github.com/GlebRadaev/vpnshop/internal/bot"
	"github.com/GlebRadaev/vpnshop/internal/gateway"
)

var errNoQR = errors.New("deposit has no qr")

// RenderQR encodes content as a PNG QR code.
func RenderQR(content string) ([]byte, error) {
	qrc, err := qrcode.New(content,
		qrcode.WithQRWidth(8),
		qrcode.WithBuiltinImageEncoder(qrcode.PNG_FORMAT),
	)
	if err != nil {
		return nil, fmt.Errorf("create qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := qrc.SaveTo(&buf); err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return buf.Bytes(), nil
}

// qrImage prefers the gateway's image and renders the raw QR string when the download fails.
func (w *Workflow) qrImage(ctx context.Context, dep *gateway.Deposit) ([]byte, error) {
	if dep.QRLink != "" {
		img, err := w.gateway.FetchQR(ctx, dep.QRLink)
		if err == nil {
			return img, nil
		}
		zap.L().Warn("Failed to download deposit QR", zap.String("reference", dep.Code), zap.Error(err))
	}
	if dep.QRString == "" {
		return nil, errNoQR
	}
	return RenderQR(dep.QRString)
}

func (w *Workflow) sendQR(ctx context.Context, chatID int64, dep *gateway.Deposit, caption string) {
	img, err := w.qrImage(ctx, dep)
	if err == nil {
		_, err = w.transport.SendPhoto(ctx, chatID, bot.Photo{Name: "qris.png", Bytes: img}, caption, nil)
		if err == nil {
			return
		}
	}
	zap.L().Warn("Sending deposit QR as text", zap.String("reference", dep.Code), zap.Error(err))

	var kb bot.Keyboard
	if dep.QRLink != "" {
		kb = bot.Keyboard{bot.Row(bot.URLButton("🔗 Open QR", dep.QRLink))}
	}
	if _, err := w.transport.SendText(ctx, chatID, caption, kb); err != nil {
		zap.L().Warn("Failed to send message", zap.Int64("chatID", chatID), zap.Error(err))
	}
}
