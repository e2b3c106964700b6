package records

import (
	"regexp"
	"strings"
)

var (
	addressPunct   = regexp.MustCompile(`[.,#'"]`)
	addressSpace   = regexp.MustCompile(`\s+`)
	postalDigits   = regexp.MustCompile(`^\d+$`)
	postalZipPlus4 = regexp.MustCompile(`^(\d{4,5})-?(\d{4})$`)
)

// addressAbbreviations follows USPS street suffix and directional forms.
var addressAbbreviations = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"road":      "rd",
	"boulevard": "blvd",
	"drive":     "dr",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"terrace":   "ter",
	"circle":    "cir",
	"square":    "sq",
	"suite":     "ste",
	"apartment": "apt",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
}

// NormalizeAddress reduces an address line to the form used for matching:
// lower case, punctuation removed, whitespace collapsed, street suffixes and
// directionals abbreviated.
func NormalizeAddress(addr string) string {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return ""
	}
	addr = addressPunct.ReplaceAllString(addr, " ")
	words := strings.Fields(addressSpace.ReplaceAllString(addr, " "))
	for i, w := range words {
		if abbr, ok := addressAbbreviations[w]; ok {
			words[i] = abbr
		}
	}
	return strings.Join(words, " ")
}

// NormalizePostalCode canonicalizes a US postal code. Four-digit codes lost
// their leading zero to spreadsheet software and are padded back; ZIP+4 codes
// are rendered as 12345-6789. Anything else is upper-cased with spaces removed.
func NormalizePostalCode(code string) string {
	code = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), " ", ""))
	if code == "" {
		return ""
	}
	if m := postalZipPlus4.FindStringSubmatch(code); m != nil {
		return padZip(m[1]) + "-" + m[2]
	}
	if postalDigits.MatchString(code) && len(code) <= 5 {
		return padZip(code)
	}
	return code
}

func padZip(z string) string {
	for len(z) < 5 {
		z = "0" + z
	}
	return z
}
