package channel

// clientState is the per-session data App attaches via
// reactor.Session.SetAppData. Only the owning worker goroutine ever
// touches it.
type clientState struct {
	redeemed    bool
	token       uint32
	characterID uint32
}
