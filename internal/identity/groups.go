package identity

import "os/user"

// lookupGroupIDs returns all group ids the named account belongs to,
// mirroring what initgroups(3) computes from the group database.
func lookupGroupIDs(name string) ([]uint32, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return nil, err
	}
	ids, err := u.GroupIds()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, 0, len(ids))
	for _, s := range ids {
		if gid, ok := parseUint32Literal(s); ok {
			out = append(out, gid)
		}
	}
	return out, nil
}
