package gridintensity

import (
	"regexp"
	"strings"

	"github.com/sells-group/devcarbon/internal/model"
)

// electricityMapsZonePattern matches zone identifiers such as "DE" or "US-CAL-CISO".
var electricityMapsZonePattern = regexp.MustCompile(`^[A-Z]{2}(-[A-Z0-9]+)*$`)

// wattTimeRegionPattern matches balancing-authority codes such as "CAISO_NORTH" or "ERCOT".
var wattTimeRegionPattern = regexp.MustCompile(`^[A-Z0-9]+(_[A-Z0-9]+)*$`)

// usStateZones maps US states to the Electricity Maps zone covering most of
// their load.
var usStateZones = map[string]string{
	"AZ": "US-SW-AZPS",
	"CA": "US-CAL-CISO",
	"CO": "US-NW-PSCO",
	"FL": "US-FLA-FPL",
	"GA": "US-SE-SOCO",
	"IL": "US-MIDW-MISO",
	"MA": "US-NE-ISNE",
	"MI": "US-MIDW-MISO",
	"MN": "US-MIDW-MISO",
	"NC": "US-CAR-DUK",
	"NJ": "US-MIDA-PJM",
	"NV": "US-NW-NEVP",
	"NY": "US-NY-NYIS",
	"OH": "US-MIDA-PJM",
	"OR": "US-NW-BPAT",
	"PA": "US-MIDA-PJM",
	"TX": "US-TEX-ERCO",
	"VA": "US-MIDA-PJM",
	"WA": "US-NW-BPAT",
}

// subnationalZoneCountries have Electricity Maps zones of the form COUNTRY-STATE.
var subnationalZoneCountries = map[string]bool{
	"AU": true,
	"CA": true,
	"IN": true,
}

// electricityMapsZone returns the zone for region, or "" if none is known.
func electricityMapsZone(region model.Region) string {
	r := region.Normalize()
	if g := strings.ToUpper(r.GridRegion); g != "" && electricityMapsZonePattern.MatchString(g) {
		return g
	}
	switch {
	case r.Country == "":
		return ""
	case r.Country == "US":
		// The US is not a single zone.
		return usStateZones[r.StateProvince]
	case r.StateProvince != "" && subnationalZoneCountries[r.Country]:
		return r.Country + "-" + r.StateProvince
	default:
		return r.Country
	}
}

// usStateWattTimeRegions maps US states to a representative WattTime region.
var usStateWattTimeRegions = map[string]string{
	"CA": "CAISO_NORTH",
	"FL": "FPL",
	"GA": "SOCO",
	"IL": "MISO_CHICAGO",
	"MA": "ISONE_WCMA",
	"NY": "NYISO_NYC",
	"OR": "BPA",
	"PA": "PJM_SOUTHWEST_PA",
	"TX": "ERCOT_NORTHCENTRAL",
	"VA": "PJM_DOM",
	"WA": "BPA",
}

// wattTimeRegion returns the WattTime region for region, or "" if none is known.
func wattTimeRegion(region model.Region) string {
	r := region.Normalize()
	if r.Country != "US" {
		return ""
	}
	if g := strings.ToUpper(r.GridRegion); g != "" && !electricityMapsZonePattern.MatchString(g) && wattTimeRegionPattern.MatchString(g) {
		return g
	}
	return usStateWattTimeRegions[r.StateProvince]
}

// iso3 maps ISO-3166 alpha-2 codes to the alpha-3 codes Ember uses.
var iso3 = map[string]string{
	"AR": "ARG", "AT": "AUT", "AU": "AUS", "BE": "BEL", "BR": "BRA",
	"CA": "CAN", "CH": "CHE", "CL": "CHL", "CN": "CHN", "CZ": "CZE",
	"DE": "DEU", "DK": "DNK", "EG": "EGY", "ES": "ESP", "FI": "FIN",
	"FR": "FRA", "GB": "GBR", "GR": "GRC", "HU": "HUN", "ID": "IDN",
	"IE": "IRL", "IL": "ISR", "IN": "IND", "IT": "ITA", "JP": "JPN",
	"KR": "KOR", "MX": "MEX", "MY": "MYS", "NG": "NGA", "NL": "NLD",
	"NO": "NOR", "NZ": "NZL", "PH": "PHL", "PK": "PAK", "PL": "POL",
	"PT": "PRT", "RO": "ROU", "SA": "SAU", "SE": "SWE", "SG": "SGP",
	"TH": "THA", "TR": "TUR", "TW": "TWN", "UA": "UKR", "US": "USA",
	"VN": "VNM", "ZA": "ZAF",
}
