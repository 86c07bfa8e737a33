package link

// FrameReader reads complete frames.
type FrameReader interface {
	ReadFrame() ([]byte, error)
}

// FrameWriter writes complete frames.
type FrameWriter interface {
	WriteFrame([]byte) error
}

// FrameReadWriter reads/writes complete frames.
type FrameReadWriter interface {
	FrameReader
	FrameWriter
}
