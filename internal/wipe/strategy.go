package wipe

import (
	"fmt"
)

// Recommendation выбранный метод с пояснением
type Recommendation struct {
	Pattern Pattern
	Reason  string
	Warning string
}

// Recommend is the pattern selection policy. It is a pure function of the
// media kind and an optional explicit request (empty means no request).
//
// SSD: NIST Purge with a secure-erase hint, since overwrite passes do not reach
// over-provisioned cells. HDD: NIST Clear unless the operator explicitly asks
// for something stronger.
func Recommend(kind MediaKind, requested PatternKind) Recommendation {
	switch kind {
	case MediaSSD:
		rec := Recommendation{
			Pattern: Pattern{Kind: PatternNistPurge, SecureEraseHint: true},
			Reason:  "SSD: overwrite cannot reach over-provisioned cells; use firmware secure erase where available",
		}
		if requested != "" && requested != PatternNistPurge {
			rec.Pattern = Pattern{Kind: requested, SecureEraseHint: true}
			rec.Reason = "explicit request"
			if PassCount(requested) > 1 {
				rec.Warning = fmt.Sprintf("%s on SSD does not guarantee erasure of over-provisioned cells", requested)
			}
		}
		return rec

	case MediaHDD:
		if requested != "" {
			return Recommendation{Pattern: Pattern{Kind: requested}, Reason: "explicit request"}
		}
		return Recommendation{
			Pattern: Pattern{Kind: PatternNistClear},
			Reason:  "HDD: single overwrite pass satisfies NIST SP 800-88 Clear",
		}

	default:
		if requested != "" {
			return Recommendation{Pattern: Pattern{Kind: requested}, Reason: "explicit request"}
		}
		return Recommendation{
			Pattern: Pattern{Kind: PatternNistClear},
			Reason:  fmt.Sprintf("%s: default NIST SP 800-88 Clear", kind),
		}
	}
}
