// Package util contains helper functions used around the code.
package util

import "regexp"

var hexAddressRe = regexp.MustCompile("^0x[a-fA-F0-9]{40}$")

// In returns true if s is found in ss, false otherwise.
func In(ss []string, s string) bool {
	for _, v := range ss {
		if s == v {
			return true
		}
	}

	return false
}

// IsHexAddress returns true if s is a 0x-prefixed 20-byte hex address.
func IsHexAddress(s string) bool {
	return hexAddressRe.MatchString(s)
}
