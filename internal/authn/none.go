package authn

// None implements mode C (§4.3): "Only NOPASS rules may succeed; any
// other rule causes 'Authorization required' failure." It never touches
// the persistence store, since a build without a credential provider has
// nothing legitimate to cache.
type None struct{}

func (None) Authenticate(req Request) error {
	if req.NoPass {
		return nil
	}
	return ErrAuthRequired
}

func (None) ClearPersistence() error { return nil }
