package messaging

import "strings"

// VCard describes one contact card for iOS and Android import.
type VCard struct {
	FullName  string
	Tel       string
	Email     string
	Note      string
	PhoneType string
}

// Encode renders the contact as a vCard 3.0 block with CRLF line endings.
// PhoneType "iphone" or "ios" selects the IPHONE tel label, everything else
// falls back to CELL.
func (v VCard) Encode() string {
	telLabel := "CELL"
	switch strings.ToLower(v.PhoneType) {
	case "iphone", "ios":
		telLabel = "IPHONE"
	}

	lines := []string{
		"BEGIN:VCARD",
		"VERSION:3.0",
		"N:" + v.FullName + ";;;;",
		"FN:" + v.FullName,
		"TEL;TYPE=" + telLabel + ":" + v.Tel,
	}
	if v.Email != "" {
		lines = append(lines, "EMAIL;TYPE=INTERNET:"+v.Email)
	}
	if v.Note != "" {
		lines = append(lines, "NOTE:"+strings.ReplaceAll(v.Note, "\n", "\r\n"))
	}
	lines = append(lines, "END:VCARD")
	return strings.Join(lines, "\r\n")
}
