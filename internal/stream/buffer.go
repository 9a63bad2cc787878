package stream

import "sync"

// opusBuffer is a bounded ring of encoded packets between the encoder and the
// voice sender. Push blocks while the ring is full, which is how a paused
// sender holds the decoder in place.
type opusBuffer struct {
	mu       sync.Mutex
	packets  [][]byte
	readPos  int
	size     int
	closed   bool
	eos      bool
	notEmpty *sync.Cond
	notFull  *sync.Cond
}

func newOpusBuffer(maxPackets int) *opusBuffer {
	ob := &opusBuffer{packets: make([][]byte, maxPackets)}
	ob.notEmpty = sync.NewCond(&ob.mu)
	ob.notFull = sync.NewCond(&ob.mu)
	return ob
}

// Push copies data into the ring. It reports false once the buffer is closed
// or marked end-of-stream.
func (ob *opusBuffer) Push(data []byte) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for ob.size == len(ob.packets) && !ob.closed && !ob.eos {
		ob.notFull.Wait()
	}
	if ob.closed || ob.eos {
		return false
	}

	ob.packets[(ob.readPos+ob.size)%len(ob.packets)] = append([]byte(nil), data...)
	ob.size++
	ob.notEmpty.Signal()
	return true
}

// Pop returns the next packet, waiting for one. ok is false when the buffer
// was closed, or marked end-of-stream and fully drained.
func (ob *opusBuffer) Pop() (pkt []byte, ok bool) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for {
		if ob.closed {
			return nil, false
		}
		if ob.size > 0 {
			pkt = ob.packets[ob.readPos]
			ob.packets[ob.readPos] = nil
			ob.readPos = (ob.readPos + 1) % len(ob.packets)
			ob.size--
			ob.notFull.Signal()
			return pkt, true
		}
		if ob.eos {
			return nil, false
		}
		ob.notEmpty.Wait()
	}
}

func (ob *opusBuffer) Len() int {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	return ob.size
}

func (ob *opusBuffer) MarkEOS() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.eos = true
	ob.notEmpty.Broadcast()
	ob.notFull.Broadcast()
}

func (ob *opusBuffer) Close() {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.closed = true
	ob.notEmpty.Broadcast()
	ob.notFull.Broadcast()
}
