package cache

// NameNormalizer canonicalizes a param name, e.g. by lowercasing. The
// default is the identity.
type NameNormalizer func(string) string

// ValueNormalizer canonicalizes a param value. Returning nil drops the
// param. The default canonicalizes numeric types only.
type ValueNormalizer func(any) any

func identityName(name string) string {
	return name
}

func defaultValue(v any) any {
	return canonScalar(v)
}

// NormalizeParams applies the normalizers to every param and drops params
// whose value is nil, before or after normalization. The input map is not
// modified.
func NormalizeParams(params Params, name NameNormalizer, value ValueNormalizer) Params {
	if name == nil {
		name = identityName
	}
	if value == nil {
		value = defaultValue
	}
	out := make(Params, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		if nv := value(v); nv != nil {
			out[name(k)] = nv
		}
	}
	return out
}

// NormalizeVary applies the normalizers to every vary key. The explicit
// absent marker is preserved as-is; only scalar values pass through the
// value normalizer.
func NormalizeVary(vary Vary, name NameNormalizer, value ValueNormalizer) Vary {
	if name == nil {
		name = identityName
	}
	if value == nil {
		value = defaultValue
	}
	out := make(Vary, len(vary))
	for k, v := range vary {
		if v.absent {
			out[name(k)] = v
			continue
		}
		out[name(k)] = VaryValue{value: value(v.value)}
	}
	return out
}
