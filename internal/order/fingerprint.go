package order

import (
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"
)

// fingerprint derives the stable identity of the real-world order:
// FNV-64a over the rounded fare, the bucketed distances, and the
// normalized address prefixes. Rounding and bucketing absorb the jitter
// between repeated renders of the same offer while still separating
// genuinely different ones.
func (n *Normalizer) fingerprint(r *Record) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%d|%d|%s|%s",
		r.Fare.Round(n.cfg.FareRoundStep),
		r.Fare.Currency,
		r.DistanceMeters/n.cfg.DistanceBucketMeters,
		r.PickupDistanceMeters/n.cfg.DistanceBucketMeters,
		addressPrefix(r.Pickup, n.cfg.AddressPrefixLen),
		addressPrefix(r.Dropoff, n.cfg.AddressPrefixLen),
	)
	return fmt.Sprintf("%016x", h.Sum64())
}

// addressPrefix normalizes an address down to its first n letters and
// digits, lowercased. Street suffixes and punctuation re-renders don't
// change the identity of the order.
func addressPrefix(addr string, n int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(addr) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			if b.Len() >= n {
				break
			}
		}
	}
	return b.String()
}
