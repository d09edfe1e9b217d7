package pipeline

import "time"

// FramesToSkip returns how many queued frames to drop after a cycle that
// took t, so the loop catches up with a camera delivering one frame every
// frameDelay. It is never negative.
func FramesToSkip(t, frameDelay time.Duration) int {
	if frameDelay <= 0 || t < frameDelay {
		return 0
	}
	return int(t / frameDelay)
}
