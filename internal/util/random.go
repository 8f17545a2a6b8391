// Package util provides small helpers shared across the ads manager packages.
package util

import (
	"math/rand/v2"
	"strings"
)

// GenerateRandomUpper returns length random uppercase ASCII letters.
// Not suitable for anything security related.
func GenerateRandomUpper(length int) string {
	if length <= 0 {
		return ""
	}

	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(letters[rand.IntN(len(letters))])
	}

	return builder.String()
}

// AdGroupName builds the ad group name for a campaign: "<campaign>_<AAA>".
func AdGroupName(campaignName string) string {
	return campaignName + "_" + GenerateRandomUpper(3)
}
