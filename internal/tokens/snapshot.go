package tokens

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

// recordSize is the encoded size of one snapshot record:
// token, block and write time, each eight bytes big-endian.
const recordSize = 24

// Export serializes the full token store into a zstd-compressed
// snapshot, suitable for seeding a new node or moving a store between
// backends.
func Export(b Backend) ([]byte, error) {
	count, err := b.Len()
	if err != nil {
		return nil, fmt.Errorf("measure token store:\n%w", err)
	}

	raw := make([]byte, 0, count*recordSize)
	var buf [recordSize]byte

	err = b.Range(func(token ring.Token, e Entry) bool {
		binary.BigEndian.PutUint64(buf[0:8], uint64(token))
		binary.BigEndian.PutUint64(buf[8:16], uint64(e.Block))
		binary.BigEndian.PutUint64(buf[16:24], uint64(e.Time))
		raw = append(raw, buf[:]...)

		return true
	})
	if err != nil {
		return nil, fmt.Errorf("collect tokens:\n%w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(raw, nil), nil
}

// Import restores a snapshot into a backend and returns the number of
// tokens written. Existing entries for the same tokens are replaced;
// other entries are left alone.
func Import(b Backend, snapshot []byte) (int, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(snapshot, nil)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	if len(raw)%recordSize != 0 {
		return 0, fmt.Errorf("snapshot is %d bytes, not a multiple of %d", len(raw), recordSize)
	}

	count := 0
	for off := 0; off < len(raw); off += recordSize {
		token := ring.Token(binary.BigEndian.Uint64(raw[off : off+8]))
		e := Entry{
			Block: ring.Block(binary.BigEndian.Uint64(raw[off+8 : off+16])),
			Time:  int64(binary.BigEndian.Uint64(raw[off+16 : off+24])),
		}

		if err := b.Set(token, e); err != nil {
			return count, fmt.Errorf("write token %#x:\n%w", uint64(token), err)
		}

		count++
	}

	return count, nil
}
