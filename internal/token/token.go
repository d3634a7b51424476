// Package token mints the opaque credentials a guest list hands out:
// invite codes, public share tokens and per-guest redemption tokens.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

// RedemptionPrefix marks a scanned value as a guest redemption token.
const RedemptionPrefix = "vc_guest_"

// inviteAlphabet omits characters that are easy to misread aloud (0/O, 1/I/L).
const inviteAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const InviteCodeLen = 8

// Redemption returns a new scannable guest token: the prefix plus 64 hex chars.
func Redemption() string {
	return RedemptionPrefix + randomHex(32)
}

// Share returns a new public-link token (48 hex chars).
func Share() string {
	return randomHex(24)
}

// InviteCode returns a short human-typable code, each character drawn
// uniformly from inviteAlphabet.
func InviteCode() string {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected so every character is equally likely.
	const limit = 256 - 256%len(inviteAlphabet)
	out := make([]byte, 0, InviteCodeLen)
	buf := make([]byte, InviteCodeLen)
	for len(out) < InviteCodeLen {
		if _, err := rand.Read(buf); err != nil {
			panic(err)
		}
		for _, v := range buf {
			if int(v) >= limit {
				continue
			}
			out = append(out, inviteAlphabet[int(v)%len(inviteAlphabet)])
			if len(out) == InviteCodeLen {
				break
			}
		}
	}
	return string(out)
}

// CanonicalInviteCode upper-cases and strips separators so codes read back
// over the phone ("abcd-efgh") still match.
func CanonicalInviteCode(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", " ", "").Replace(s)
}

// IsRedemption reports whether s looks like a redemption token.
func IsRedemption(s string) bool {
	return strings.HasPrefix(s, RedemptionPrefix) && len(s) == len(RedemptionPrefix)+64
}

func randomHex(n int) string {
	b := make([]byte, n)
	// crypto/rand.Read never returns an error on supported platforms.
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
