// Package wire implements the minimal MongoDB OP_MSG framing this system
// speaks (spec §6 "Wire commands"): a 16-byte standard message header
// followed by an OP_MSG body of flag bits and one or more sections. Only
// BSON encode/decode comes from go.mongodb.org/mongo-driver/bson; the
// framing itself is hand-rolled, since no MongoDB wire-protocol server
// library exists anywhere in the retrieved pack (the teacher and the rest
// of the examples are HTTP/REST services, not wire-protocol servers) and
// none of the pack's network libraries (just net/http transports) model
// this length-prefixed binary shape.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/relaydb/relaydb/pkg/document"
)

const (
	opMsg = 2013

	flagChecksumPresent = 1 << 0

	sectionKindBody     = 0
	sectionKindSequence = 1
)

// Message is one decoded OP_MSG request: the merged command document (kind
// 0 section plus any kind 1 document-sequence sections folded in under
// their identifier field) and the header fields needed to build a reply.
type Message struct {
	RequestID int32
	Command   document.M
}

// ReadMessage reads and decodes one OP_MSG request from r.
func ReadMessage(r io.Reader) (*Message, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	messageLength := int32(binary.LittleEndian.Uint32(header[0:4]))
	requestID := int32(binary.LittleEndian.Uint32(header[4:8]))
	opCode := int32(binary.LittleEndian.Uint32(header[12:16]))
	if opCode != opMsg {
		return nil, fmt.Errorf("wire: unsupported opcode %d", opCode)
	}
	if messageLength < 16 {
		return nil, fmt.Errorf("wire: invalid message length %d", messageLength)
	}

	body := make([]byte, messageLength-16)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}

	flagBits := binary.LittleEndian.Uint32(body[0:4])
	pos := 4
	end := len(body)
	if flagBits&flagChecksumPresent != 0 {
		end -= 4 // trailing CRC32C, not verified
	}

	cmd := document.M{}
	for pos < end {
		kind := body[pos]
		pos++
		switch kind {
		case sectionKindBody:
			doc, n, err := readDocument(body[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			for k, v := range doc {
				cmd[k] = v
			}
		case sectionKindSequence:
			seqLen := int(int32(binary.LittleEndian.Uint32(body[pos : pos+4])))
			seqEnd := pos + seqLen
			p := pos + 4
			ident, n := readCString(body[p:])
			p += n
			var docs document.A
			for p < seqEnd {
				doc, dn, err := readDocument(body[p:])
				if err != nil {
					return nil, err
				}
				docs = append(docs, doc)
				p += dn
			}
			cmd[ident] = docs
			pos = seqEnd
		default:
			return nil, fmt.Errorf("wire: unknown section kind %d", kind)
		}
	}

	return &Message{RequestID: requestID, Command: cmd}, nil
}

func readDocument(b []byte) (document.M, int, error) {
	if len(b) < 4 {
		return nil, 0, fmt.Errorf("wire: truncated document")
	}
	length := int(int32(binary.LittleEndian.Uint32(b[0:4])))
	if length < 4 || length > len(b) {
		return nil, 0, fmt.Errorf("wire: invalid document length %d", length)
	}
	var m document.M
	if err := bson.Unmarshal(b[:length], &m); err != nil {
		return nil, 0, fmt.Errorf("wire: decoding document: %w", err)
	}
	return m, length, nil
}

func readCString(b []byte) (string, int) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), i + 1
		}
	}
	return string(b), len(b)
}

// WriteReply encodes reply as a single-section OP_MSG response to
// requestID and writes it to w.
func WriteReply(w io.Writer, requestID int32, reply document.M) error {
	docBytes, err := bson.Marshal(reply)
	if err != nil {
		return fmt.Errorf("wire: encoding reply: %w", err)
	}

	body := make([]byte, 0, 4+1+len(docBytes))
	var flagBits [4]byte
	body = append(body, flagBits[:]...)
	body = append(body, sectionKindBody)
	body = append(body, docBytes...)

	messageLength := 16 + len(body)
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(messageLength))
	binary.LittleEndian.PutUint32(header[4:8], 0) // our own requestID, unused by clients
	binary.LittleEndian.PutUint32(header[8:12], uint32(requestID))
	binary.LittleEndian.PutUint32(header[12:16], uint32(opMsg))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}
