package access

import (
	"strconv"
	"strings"
)

// packIP folds a dotted-quad address into a 32-bit integer. The second
// return is false for anything that is not exactly four octet groups of
// numbers in range.
func packIP(ip string) (uint32, bool) {
	parts := strings.Split(strings.TrimSpace(ip), ".")
	if len(parts) != 4 {
		return 0, false
	}
	var packed uint32
	for _, part := range parts {
		octet, err := strconv.Atoi(part)
		if err != nil || octet < 0 || octet > 255 {
			return 0, false
		}
		packed = packed<<8 + uint32(octet)
	}
	return packed, true
}

// CheckUserIP reports whether ip falls inside any of the configured ranges.
// A range is either a single address "a.b.c.d" or an inclusive span
// "a.b.c.d-e.f.g.h". Malformed entries are skipped individually; an empty
// range list never matches.
func CheckUserIP(ip string, ranges []string) bool {
	if len(ranges) == 0 {
		return false
	}
	current, ok := packIP(ip)
	if !ok {
		return false
	}

	for _, entry := range ranges {
		bounds := strings.SplitN(entry, "-", 2)
		begin, ok := packIP(bounds[0])
		if !ok {
			continue
		}
		end := begin
		if len(bounds) == 2 {
			end, ok = packIP(bounds[1])
			if !ok {
				continue
			}
		}
		if begin <= current && current <= end {
			return true
		}
	}
	return false
}
