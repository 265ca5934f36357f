package webclient

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/harun/wagateway/pkg/session"
	"github.com/ysmood/gson"
)

// NormalizeRecipient reduces a phone number or chat id to its digits.
func NormalizeRecipient(to string) (string, error) {
	to = strings.TrimSpace(to)
	if at := strings.IndexByte(to, '@'); at >= 0 {
		to = to[:at]
	}

	var b strings.Builder
	for _, r := range to {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 6 || len(digits) > 20 {
		return "", fmt.Errorf("invalid recipient %q", to)
	}
	return digits, nil
}

func sendURL(base, phone, text string) string {
	q := url.Values{}
	q.Set("phone", phone)
	q.Set("text", text)
	return strings.TrimRight(base, "/") + "/send?" + q.Encode()
}

func qrDataURL(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

func decodeInbound(v gson.JSON, now time.Time) (session.InboundMessage, bool) {
	id := v.Get("id").Str()
	if id == "" {
		return session.InboundMessage{}, false
	}
	return session.InboundMessage{
		ID:        id,
		From:      v.Get("from").Str(),
		Body:      v.Get("body").Str(),
		Timestamp: now,
	}, true
}

func decodeProbe(v gson.JSON) probe {
	return probe{
		QRRef: v.Get("ref").Str(),
		Ready: v.Get("ready").Bool(),
	}
}

// pairedMarker is written into a profile once the device reaches ready.
const pairedMarker = ".paired"

func hasPairedMarker(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, pairedMarker))
	return err == nil
}

func markPaired(dir string) error {
	return os.WriteFile(filepath.Join(dir, pairedMarker), nil, 0600)
}

func clearPaired(dir string) error {
	err := os.Remove(filepath.Join(dir, pairedMarker))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
