package protocol

// DefaultFrameSize is the payload limit of a single write on the serial
// characteristic of HM-10 class modules (BLE 4.0 default ATT MTU minus
// the 3 byte ATT header).
const DefaultFrameSize = 20

// Frames splits a command into consecutive frames of at most size bytes.
// Frames are sub-slices of cmd in order; joining them gives cmd back
// exactly, and no frame is padded. Returns nil for an empty command or a
// non-positive size.
func Frames(cmd []byte, size int) [][]byte {
	if len(cmd) == 0 || size <= 0 {
		return nil
	}

	frames := make([][]byte, 0, (len(cmd)+size-1)/size)
	for len(cmd) > 0 {
		n := min(size, len(cmd))
		// Cap the capacity so a frame can never be appended into the next one.
		frames = append(frames, cmd[:n:n])
		cmd = cmd[n:]
	}
	return frames
}
