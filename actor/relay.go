package actor

// Relay is a built-in actor type with no state, used purely as a sender
// identity when a caller needs to originate messages without defining its
// own actor type.
type Relay struct{}

func init() {
	Register[Relay]("relay")
}
