// Package emitter implements the recursive cartesian expansion through the
// 16 attribute axes described in spec.md §4.7. Each axis consumes the
// line-builders produced by the previous axis and returns the (possibly
// larger) set of builders that axis fans out to; an empty axis input is
// forwarded unchanged. Builders are passed by value throughout, per the
// "mutable builder state" design note — this keeps the pipeline a chain of
// plain functions and makes cartesian expansion cheap to reason about.
package emitter

// builder accumulates the two parallel match strings (IPv4-specific,
// IPv6-specific) an emitted line will use, plus any family the rule has
// been forced into by an upstream axis (an ICMP protocol, a /96 address,
// an oversized recent/connlimit mask, ...).
type builder struct {
	v4, v6          string
	forceV4, forceV6 bool
}

func (b builder) forced() bool {
	return b.forceV4 || b.forceV6
}

// appendBoth appends the same fragment to both the v4 and v6 match
// strings.
func (b builder) appendBoth(fragment string) builder {
	b.v4 = appendFrag(b.v4, fragment)
	b.v6 = appendFrag(b.v6, fragment)
	return b
}

// appendV4 appends a fragment only to the v4 string and forces v4.
func (b builder) appendV4(fragment string) builder {
	b.v4 = appendFrag(b.v4, fragment)
	b.forceV4 = true
	return b
}

// appendV6 appends a fragment only to the v6 string and forces v6.
func (b builder) appendV6(fragment string) builder {
	b.v6 = appendFrag(b.v6, fragment)
	b.forceV6 = true
	return b
}

func appendFrag(s, fragment string) string {
	if fragment == "" {
		return s
	}
	if s == "" {
		return fragment
	}
	return s + " " + fragment
}

// axis is a pipeline stage: given the current set of builders and the rule
// being emitted, return the fanned-out set of builders for the next axis.
type axis func(in []builder, ctx *ruleContext) ([]builder, error)

func runPipeline(axes []axis, ctx *ruleContext) ([]builder, error) {
	builders := []builder{{}}
	for _, a := range axes {
		next, err := a(builders, ctx)
		if err != nil {
			return nil, err
		}
		builders = next
	}
	return builders, nil
}
