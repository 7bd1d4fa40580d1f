// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/aplane-algo/apbridge/internal/pagechan"
	"github.com/aplane-algo/apbridge/internal/util"
)

// ServeNativeMessaging serves the page channel over browser native-messaging
// framing until r ends or ctx is cancelled. The browser closing the stream
// cancels every in-flight request. Cancelling ctx returns without waiting for
// r, which may stay blocked until the process exits.
func ServeNativeMessaging(ctx context.Context, d *Dispatcher, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(WithRemoteAddr(ctx, "stdio"))
	out := pagechan.NewWriter(w)

	var inflight sync.WaitGroup
	defer func() {
		cancel()
		inflight.Wait()
	}()

	frames := make(chan frame)
	go readFrames(ctx, r, frames)

	for {
		var f frame
		select {
		case <-ctx.Done():
			util.Debug("native messaging stopped")
			return nil
		case f = <-frames:
		}

		if f.err != nil {
			if errors.Is(f.err, io.EOF) {
				util.Debug("native messaging stream closed")
				return nil
			}
			// A bad frame desynchronises the stream; report and stop.
			_ = out.Write(errorResponse("", fmt.Errorf("%w: %v", ErrMalformedRequest, f.err)))
			return f.err
		}

		inflight.Add(1)
		go func(raw []byte) {
			defer inflight.Done()
			resp := d.Handle(ctx, raw)
			if err := out.Write(resp); err != nil {
				util.Logger.Warnw("native messaging write failed", "error", err)
			}
		}(f.raw)
	}
}

type frame struct {
	raw []byte
	err error
}

// readFrames forwards frames from r until a read fails or ctx ends.
func readFrames(ctx context.Context, r io.Reader, frames chan<- frame) {
	for {
		raw, err := pagechan.Read(r)
		select {
		case frames <- frame{raw: raw, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}
