// Package messaging sends operational notifications to estate contacts over
// SMS and WhatsApp. Phone numbers are South African mobiles in whatever
// format a spreadsheet or signup form delivered them.
package messaging

import (
	"fmt"
	"strings"
)

// ErrUnsupportedPhone is returned when a phone number cannot be normalised to
// a South African MSISDN.
var ErrUnsupportedPhone = fmt.Errorf("unsupported phone format")

func digitsOnly(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatMSISDN converts common SA local formats to a gateway-ready MSISDN
// (27XXXXXXXXX). Numbers already starting with 27 pass through; a 10-digit
// local number has its leading 0 replaced.
func FormatMSISDN(raw string) (string, error) {
	digits := digitsOnly(raw)
	if strings.HasPrefix(digits, "27") && len(digits) == 11 {
		return digits, nil
	}
	if strings.HasPrefix(digits, "0") && len(digits) == 10 {
		return "27" + digits[1:], nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedPhone, raw)
}

// CleanMSISDN normalises numbers that came out of a spreadsheet, tolerating
// the leading apostrophe of a text cell and the dropped leading zero of an
// integer cell, and returns a +E.164 string for contact cards.
func CleanMSISDN(raw string) string {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "'"))
	digits := digitsOnly(trimmed)

	// Excel stored 082... as 829...: restore the leading zero.
	if len(digits) == 9 && !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	if strings.HasPrefix(digits, "0") && len(digits) == 10 {
		digits = "27" + digits[1:]
	}
	return "+" + digits
}
