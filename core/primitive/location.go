package primitive

import (
	"fmt"
	"time"
	_ "time/tzdata"
)

// windowsZones maps Windows time zone ids to the IANA zone CLDR lists for
// their default territory. It covers the commonly configured zones only;
// any other Windows id fails as an unknown zone.
var windowsZones = map[string]string{
	"UTC":                            "UTC",
	"GMT Standard Time":              "Europe/London",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Romance Standard Time":          "Europe/Paris",
	"E. Europe Standard Time":        "Europe/Chisinau",
	"Russian Standard Time":          "Europe/Moscow",
	"India Standard Time":            "Asia/Calcutta",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"AUS Eastern Standard Time":      "Australia/Sydney",
	"Eastern Standard Time":          "America/New_York",
	"Central Standard Time":          "America/Chicago",
	"Mountain Standard Time":         "America/Denver",
	"US Mountain Standard Time":      "America/Phoenix",
	"Pacific Standard Time":          "America/Los_Angeles",
	"Alaskan Standard Time":          "America/Anchorage",
	"Hawaiian Standard Time":         "Pacific/Honolulu",
	"E. South America Standard Time": "America/Sao_Paulo",
	"Greenwich Standard Time":        "Atlantic/Reykjavik",
	"Central European Standard Time": "Europe/Warsaw",
	"GTB Standard Time":              "Europe/Bucharest",
	"FLE Standard Time":              "Europe/Kiev",
	"Turkey Standard Time":           "Europe/Istanbul",
	"Israel Standard Time":           "Asia/Jerusalem",
	"Egypt Standard Time":            "Africa/Cairo",
	"South Africa Standard Time":     "Africa/Johannesburg",
	"Arab Standard Time":             "Asia/Riyadh",
	"Arabian Standard Time":          "Asia/Dubai",
	"Pakistan Standard Time":         "Asia/Karachi",
	"Nepal Standard Time":            "Asia/Katmandu",
	"Bangladesh Standard Time":       "Asia/Dhaka",
	"SE Asia Standard Time":          "Asia/Bangkok",
	"Singapore Standard Time":        "Asia/Singapore",
	"Taipei Standard Time":           "Asia/Taipei",
	"Korea Standard Time":            "Asia/Seoul",
	"W. Australia Standard Time":     "Australia/Perth",
	"New Zealand Standard Time":      "Pacific/Auckland",
	"Atlantic Standard Time":         "America/Halifax",
	"Newfoundland Standard Time":     "America/St_Johns",
	"Canada Central Standard Time":   "America/Regina",
	"Central Standard Time (Mexico)": "America/Mexico_City",
	"Central America Standard Time":  "America/Guatemala",
	"Argentina Standard Time":        "America/Buenos_Aires",
}

// LoadLocation resolves a zone by IANA name or Windows id. An empty name is
// the process's local zone.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if iana, ok := windowsZones[name]; ok {
		return time.LoadLocation(iana)
	}
	return nil, fmt.Errorf("unknown time zone %q: %w", name, err)
}
