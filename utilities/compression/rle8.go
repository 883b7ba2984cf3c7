package compression

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// maxRunPerGroup is the longest run a single `B B n` group can represent: the
// two literal bytes plus up to 255 repeats.
const maxRunPerGroup = 257

// byteRun is a single run of one byte value. A zero length means the input is
// exhausted.
type byteRun struct {
	value  byte
	length int
}

// nextRun reads the longest run of identical bytes at the head of `source`.
func nextRun(source *bufio.Reader) (byteRun, error) {
	first, err := source.ReadByte()
	if err != nil {
		return byteRun{}, err
	}

	run := byteRun{value: first, length: 1}
	for {
		current, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return run, nil
		} else if err != nil {
			return byteRun{}, err
		}

		if current != first {
			// Hit a different byte, back up and return.
			source.UnreadByte()
			return run, nil
		}
		run.length++
	}
}

// CompressRLE8 reads bytes from the input and writes compressed data to the
// output until the input is exhausted. The return value is the number of bytes
// written, only valid if no error occurred.
func CompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	totalBytesWritten := int64(0)

	emit := func(chunk []byte) error {
		n, err := output.Write(chunk)
		totalBytesWritten += int64(n)
		if err != nil {
			return fmt.Errorf("failed to write to output: %w", err)
		}
		return nil
	}

	for {
		run, err := nextRun(source)
		if errors.Is(err, io.EOF) {
			return totalBytesWritten, nil
		} else if err != nil {
			return totalBytesWritten, fmt.Errorf("error reading input: %w", err)
		}

		for run.length >= 2 {
			groupLength := run.length
			if groupLength > maxRunPerGroup {
				groupLength = maxRunPerGroup
			}

			err = emit([]byte{run.value, run.value, byte(groupLength - 2)})
			if err != nil {
				return totalBytesWritten, err
			}
			run.length -= groupLength
		}

		if run.length == 1 {
			err = emit([]byte{run.value})
			if err != nil {
				return totalBytesWritten, err
			}
		}
	}
}

// DecompressRLE8 reverses [CompressRLE8]. A stream ending right after a pair
// of identical bytes is missing its repeat count and fails with an error
// wrapping [io.ErrUnexpectedEOF].
func DecompressRLE8(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	lastByteRead := -1
	totalBytesWritten := int64(0)

	for {
		currentByte, err := source.ReadByte()
		if errors.Is(err, io.EOF) {
			return totalBytesWritten, nil
		} else if err != nil {
			return totalBytesWritten, fmt.Errorf("error reading input: %w", err)
		}

		var currentOutput []byte
		if int(currentByte) == lastByteRead {
			repeatCount, err := source.ReadByte()
			if errors.Is(err, io.EOF) {
				return totalBytesWritten, fmt.Errorf(
					"%w: missing repeat count after two %02x bytes",
					io.ErrUnexpectedEOF,
					currentByte,
				)
			} else if err != nil {
				return totalBytesWritten, fmt.Errorf("error reading input: %w", err)
			}

			// The first byte of the pair was already written out on the
			// previous iteration.
			currentOutput = bytes.Repeat([]byte{currentByte}, int(repeatCount)+1)

			// A group is complete, so the next byte starts fresh even if it's
			// the same value. Runs of 258+ bytes depend on this.
			lastByteRead = -1
		} else {
			lastByteRead = int(currentByte)
			currentOutput = []byte{currentByte}
		}

		n, err := output.Write(currentOutput)
		totalBytesWritten += int64(n)
		if err != nil {
			return totalBytesWritten, fmt.Errorf("failed to write to output: %w", err)
		}
	}
}
