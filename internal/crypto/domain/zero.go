package domain

// Zero overwrites every given buffer with zeros. Nil and empty buffers are ignored.
func Zero(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
