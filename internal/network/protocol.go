package network

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/EcProtocol/EcNode-sub003/internal/election"
	"github.com/EcProtocol/EcNode-sub003/internal/proof"
	"github.com/EcProtocol/EcNode-sub003/internal/ring"
)

const (
	// maxMessageSize is the maximum allowed message size (16 MB).
	// Election messages are tiny; the ceiling exists for snapshot
	// transfers on request streams.
	maxMessageSize = 16 << 20

	// lengthPrefixSize is the size of the length prefix in bytes.
	lengthPrefixSize = 4
)

// Kind discriminates wire messages.
type Kind uint8

const (
	// KindHello carries a peer's identity proof; the first message on
	// every connection, both directions.
	KindHello Kind = iota + 1

	// KindQuery is a proof-of-storage challenge.
	KindQuery

	// KindAnswer carries a proof-of-storage signature. A zero ticket
	// makes it an invitation.
	KindAnswer

	// KindReferral declines a query and suggests two closer peers.
	KindReferral
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindQuery:
		return "query"
	case KindAnswer:
		return "answer"
	case KindReferral:
		return "referral"
	default:
		return "unknown"
	}
}

// Message is one decoded wire message.
type Message interface {
	kind() Kind
}

// Hello proves the sender's mined identity: the address must equal the
// Argon2 hash of (public key, salt) at the network difficulty.
type Hello struct {
	Peer   ring.Peer
	Public [32]byte
	Salt   [16]byte
}

// Query challenges the receiver to prove storage of a token.
type Query struct {
	Token  ring.Token
	Ticket election.Ticket
}

// Answer responds to a query with a proof-of-storage signature, or
// offers a connection when Ticket is zero.
type Answer struct {
	Ticket    election.Ticket
	Answer    proof.Mapping
	Signature proof.Signature
}

// Referral declines a query and points at two peers closer to the
// token.
type Referral struct {
	Ticket    election.Ticket
	Token     ring.Token
	Suggested [2]ring.Peer
}

func (Hello) kind() Kind    { return KindHello }
func (Query) kind() Kind    { return KindQuery }
func (Answer) kind() Kind   { return KindAnswer }
func (Referral) kind() Kind { return KindReferral }

// Encoded sizes: one kind byte plus fixed-width big-endian fields.
const (
	helloSize    = 1 + 8 + 32 + 16
	querySize    = 1 + 8 + 8
	answerSize   = 1 + 8 + 16 + proof.SignatureSize*16
	referralSize = 1 + 8 + 8 + 16
)

// Encode serializes a message for the wire.
func Encode(m Message) []byte {
	switch v := m.(type) {
	case Hello:
		buf := make([]byte, 0, helloSize)
		buf = append(buf, byte(KindHello))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Peer))
		buf = append(buf, v.Public[:]...)
		buf = append(buf, v.Salt[:]...)
		return buf

	case Query:
		buf := make([]byte, 0, querySize)
		buf = append(buf, byte(KindQuery))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Token))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Ticket))
		return buf

	case Answer:
		buf := make([]byte, 0, answerSize)
		buf = append(buf, byte(KindAnswer))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Ticket))
		buf = appendMapping(buf, v.Answer)
		for _, m := range v.Signature {
			buf = appendMapping(buf, m)
		}
		return buf

	case Referral:
		buf := make([]byte, 0, referralSize)
		buf = append(buf, byte(KindReferral))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Ticket))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Token))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Suggested[0]))
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Suggested[1]))
		return buf

	default:
		// All message types are defined in this package.
		panic(fmt.Sprintf("encode: unknown message type %T", m))
	}
}

// Decode parses a wire message.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("decode: empty message")
	}

	kind := Kind(data[0])
	switch kind {
	case KindHello:
		if len(data) != helloSize {
			return nil, fmt.Errorf("decode hello: %d bytes, want %d", len(data), helloSize)
		}
		var h Hello
		h.Peer = ring.Peer(binary.BigEndian.Uint64(data[1:9]))
		copy(h.Public[:], data[9:41])
		copy(h.Salt[:], data[41:57])
		return h, nil

	case KindQuery:
		if len(data) != querySize {
			return nil, fmt.Errorf("decode query: %d bytes, want %d", len(data), querySize)
		}
		return Query{
			Token:  ring.Token(binary.BigEndian.Uint64(data[1:9])),
			Ticket: election.Ticket(binary.BigEndian.Uint64(data[9:17])),
		}, nil

	case KindAnswer:
		if len(data) != answerSize {
			return nil, fmt.Errorf("decode answer: %d bytes, want %d", len(data), answerSize)
		}
		var a Answer
		a.Ticket = election.Ticket(binary.BigEndian.Uint64(data[1:9]))
		a.Answer = readMapping(data[9:25])
		for i := range a.Signature {
			off := 25 + i*16
			a.Signature[i] = readMapping(data[off : off+16])
		}
		return a, nil

	case KindReferral:
		if len(data) != referralSize {
			return nil, fmt.Errorf("decode referral: %d bytes, want %d", len(data), referralSize)
		}
		return Referral{
			Ticket: election.Ticket(binary.BigEndian.Uint64(data[1:9])),
			Token:  ring.Token(binary.BigEndian.Uint64(data[9:17])),
			Suggested: [2]ring.Peer{
				ring.Peer(binary.BigEndian.Uint64(data[17:25])),
				ring.Peer(binary.BigEndian.Uint64(data[25:33])),
			},
		}, nil

	default:
		return nil, fmt.Errorf("decode: unknown message kind %d", data[0])
	}
}

func appendMapping(buf []byte, m proof.Mapping) []byte {
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Token))
	buf = binary.BigEndian.AppendUint64(buf, uint64(m.Block))

	return buf
}

func readMapping(data []byte) proof.Mapping {
	return proof.Mapping{
		Token: ring.Token(binary.BigEndian.Uint64(data[0:8])),
		Block: ring.Block(binary.BigEndian.Uint64(data[8:16])),
	}
}

// writeMessage writes a length-prefixed message to the writer.
// Format: [4 bytes big-endian length] [payload]
func writeMessage(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("message too large: %d > %d", len(data), maxMessageSize)
	}

	var lengthBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(data)))

	if _, err := w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write length:\n%w", err)
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write payload:\n%w", err)
	}

	return nil
}

// readMessage reads a length-prefixed message from the reader.
func readMessage(r io.Reader) ([]byte, error) {
	var lengthBuf [lengthPrefixSize]byte

	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("read length:\n%w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])

	if length > maxMessageSize {
		return nil, fmt.Errorf("message too large: %d > %d", length, maxMessageSize)
	}

	data := make([]byte, length)

	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read payload:\n%w", err)
	}

	return data, nil
}
