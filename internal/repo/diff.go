package repo

// Diff partitions the union of remote and local names into names present on
// both sides, names present only remotely and names present only locally.
// It does not modify its inputs and always returns non-nil sets.
func Diff(remote, local Set) Partition {
	p := Partition{
		Matching:        make(Set),
		MissingLocally:  make(Set),
		MissingRemotely: make(Set),
	}

	for name, rec := range remote {
		if local.Has(name) {
			p.Matching[name] = rec
		} else {
			p.MissingLocally[name] = rec
		}
	}

	for name, rec := range local {
		if !remote.Has(name) {
			p.MissingRemotely[name] = rec
		}
	}

	return p
}
