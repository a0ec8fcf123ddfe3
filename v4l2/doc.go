// Package v4l2 provides pure Go bindings to the subset of the Video4Linux2
// streaming API used for memory-mapped frame capture and hardware control
// adjustment: buffer lifecycle (REQBUFS, QUERYBUF, QBUF, DQBUF), stream
// control (STREAMON, STREAMOFF), control queries and writes (QUERYCTRL,
// G_CTRL, S_CTRL), and a bounded single-descriptor readiness wait.
//
// The package does not use cgo. Device negotiation (format, resolution) is
// the caller's responsibility; Open expects an already-configured capture
// node.
//
// Example:
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	granted, err := dev.RequestBuffers(16)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for i := uint32(0); i < granted; i++ {
//	    info, _ := dev.QueryBuffer(i)
//	    data, _ := dev.MapBuffer(info)
//	    _ = dev.QueueBuffer(i)
//	    defer dev.UnmapBuffer(data)
//	}
package v4l2
