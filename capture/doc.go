// Package capture implements the buffer-managed still-frame pipeline: it
// requests and memory-maps a ring of hardware buffers, streams until a chosen
// sequential frame arrives, hands the retained frame to the imaging layer,
// and tears everything down again on every exit path.
//
// The pipeline is single-flight per device. Starting a cycle while a previous
// session (including deferred teardown) still owns the device is a
// programming error and is reported as ErrSessionActive rather than tolerated
// as a race.
//
// Example:
//
//	dev, err := v4l2.Open("/dev/video0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Close()
//
//	pipe := capture.NewPipeline(dev)
//	outcome, err := pipe.CaptureOneFrame(context.Background(), capture.Request{
//	    TargetFrame: 80,
//	    BufferCount: 16,
//	    SavePath:    "/tmp/still.jpg",
//	    SaveQuality: 85,
//	}, nil)
//	if err != nil && outcome.Broken {
//	    // close and reopen the device before the next cycle
//	}
package capture
