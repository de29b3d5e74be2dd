package key

// Key is the identity of one cached read.
// Family names the logical query; Variation names one parameterization of it
// (and, for paginated reads, one page). Every Variation belongs to exactly one
// Family.
type Key struct {
	Family    string
	Variation string
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool { return k.Family == "" && k.Variation == "" }

func (k Key) String() string { return k.Variation }

// New builds the Key for base with optional params.
// The variation is always the encoding of a list ([base] or [base,params]).
func New(base, params Part) Key {
	if !params.IsValid() {
		return Key{Family: Encode(base), Variation: Encode(List(base))}
	}
	return Key{Family: Encode(base), Variation: Encode(List(base, params))}
}

// Page composes k with an explicit page parameter: the variation becomes
// [base,params]@{paramKey:param}. No variation built by New contains text
// after its closing bracket, so a page key never equals a plain key, even one
// whose params spell {paramKey:param}. The same param always yields the same
// Key, whatever the position of the page in a chain.
func (k Key) Page(paramKey string, param Part) Key {
	tag := Encode(Map(map[string]Part{paramKey: param}))
	v := k.Variation
	if len(v) < 2 || v[0] != '[' || v[len(v)-1] != ']' {
		// not built by New; wrap it so the prefix is still a list
		v = Encode(List(Text(v)))
	}
	return Key{Family: k.Family, Variation: v + "@" + tag}
}
