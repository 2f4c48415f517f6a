package sink

import "fmt"

const (
	tpacketAlignment = 16 // TPACKET_ALIGNMENT
	tpacketHdrLen    = 52 // TPACKET3_HDRLEN, rounded
	maxBlockSize     = 4 << 20

	defaultRingSizeMB = 2
)

// ringGeometry sizes a PACKET_MMAP ring for the given memory budget and frame
// capacity. The kernel requires the frame size to be TPACKET_ALIGNMENT
// aligned and the block size to be a multiple of both the page size and the
// frame size.
func ringGeometry(ringSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	if ringSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring size must be positive, got %d MB", ringSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be a positive multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = alignUp(tpacketHdrLen+snapLen, tpacketAlignment)

	blockSize = lcm(pageSize, frameSize)
	if blockSize > maxBlockSize {
		// widen the frame until it tiles pages exactly
		if frameSize < pageSize {
			frameSize = nextPow2(frameSize)
		} else {
			frameSize = alignUp(frameSize, pageSize)
		}
		blockSize = max(frameSize, pageSize)
	}

	numBlocks = (ringSizeMB << 20) / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func alignUp(n, align int) int { return (n + align - 1) / align * align }

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
