package stream

import (
	channerics "github.com/niceyeti/channerics/channels"
)

// Merge fans a set of channels into one, closing once done closes or every
// input channel has closed — whichever comes first. It is a thin pass
// through to channerics.Merge so that the rest of this package does not
// import the third-party module directly.
func Merge[T any](done <-chan struct{}, channels ...<-chan T) <-chan T {
	return channerics.Merge(done, channels...)
}
