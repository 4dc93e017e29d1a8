package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/stretchr/testify/require"

	"github.com/relaydb/relaydb/pkg/document"
)

// encodeMessage builds a raw OP_MSG request with a single kind-0 body
// section, mirroring what a real driver puts on the wire.
func encodeMessage(t *testing.T, requestID int32, cmd document.M) []byte {
	t.Helper()
	docBytes, err := bson.Marshal(cmd)
	require.NoError(t, err)

	body := make([]byte, 0, 4+1+len(docBytes))
	body = append(body, 0, 0, 0, 0) // flagBits
	body = append(body, sectionKindBody)
	body = append(body, docBytes...)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(body)))
	binary.LittleEndian.PutUint32(header[4:8], uint32(requestID))
	binary.LittleEndian.PutUint32(header[8:12], 0)
	binary.LittleEndian.PutUint32(header[12:16], uint32(opMsg))

	return append(header, body...)
}

func TestReadMessageDecodesBodySection(t *testing.T) {
	raw := encodeMessage(t, 42, document.M{"ping": int32(1), "$db": "admin"})

	msg, err := ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, int32(42), msg.RequestID)
	require.Equal(t, "admin", msg.Command["$db"])
	require.EqualValues(t, 1, msg.Command["ping"])
}

func TestReadMessageFoldsDocumentSequenceSection(t *testing.T) {
	doc1, err := bson.Marshal(document.M{"x": int32(1)})
	require.NoError(t, err)
	doc2, err := bson.Marshal(document.M{"x": int32(2)})
	require.NoError(t, err)

	ident := "documents"
	seqPayload := append([]byte(ident), 0) // cstring
	seqPayload = append(seqPayload, doc1...)
	seqPayload = append(seqPayload, doc2...)
	seqLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(seqLen, uint32(4+len(seqPayload)))

	cmdBytes, err := bson.Marshal(document.M{"insert": "widgets", "$db": "testdb"})
	require.NoError(t, err)

	body := make([]byte, 0)
	body = append(body, 0, 0, 0, 0) // flagBits
	body = append(body, sectionKindBody)
	body = append(body, cmdBytes...)
	body = append(body, sectionKindSequence)
	body = append(body, seqLen...)
	body = append(body, seqPayload...)

	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], uint32(16+len(body)))
	binary.LittleEndian.PutUint32(header[4:8], 7)
	binary.LittleEndian.PutUint32(header[12:16], uint32(opMsg))
	raw := append(header, body...)

	msg, err := ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, "widgets", msg.Command["insert"])

	docs, ok := msg.Command["documents"].(document.A)
	require.True(t, ok)
	require.Len(t, docs, 2)
	require.EqualValues(t, 1, docs[0].(document.M)["x"])
	require.EqualValues(t, 2, docs[1].(document.M)["x"])
}

func TestReadMessageRejectsUnsupportedOpcode(t *testing.T) {
	header := make([]byte, 16)
	binary.LittleEndian.PutUint32(header[0:4], 16)
	binary.LittleEndian.PutUint32(header[12:16], 999)

	_, err := ReadMessage(bytes.NewReader(header))
	require.Error(t, err)
}

func TestWriteReplyThenReadMessageRoundTrips(t *testing.T) {
	var buf bytes.Buffer
	reply := document.M{"ok": float64(1), "n": int32(3)}
	require.NoError(t, WriteReply(&buf, 55, reply))

	raw := buf.Bytes()
	responseTo := int32(binary.LittleEndian.Uint32(raw[8:12]))
	require.Equal(t, int32(55), responseTo)

	msg, err := ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	require.EqualValues(t, 1, msg.Command["ok"])
	require.EqualValues(t, 3, msg.Command["n"])
}

func TestReadCString(t *testing.T) {
	s, n := readCString([]byte("abc\x00rest"))
	require.Equal(t, "abc", s)
	require.Equal(t, 4, n)
}
