package wallet

import (
	"bytes"
	"crypto/sha512"
	"encoding/base64"
	"encoding/binary"
	"strconv"

	"github.com/minio/sha256-simd"
	"github.com/permadeploy/deployer/code/go/permadeploy/deploycore/transport"
)

// Signature types of the bundled data item format.
const (
	SignatureTypeArweave  uint16 = 1
	SignatureTypeEthereum uint16 = 3
)

// dataItem is the unsigned part of a bundled data item.
type dataItem struct {
	sigType uint16
	owner   []byte
	target  []byte
	anchor  []byte
	tags    []byte
	data    []byte
}

// signingMessage is the deep hash every signer signs.
func (d *dataItem) signingMessage() []byte {
	return deepHash([][]byte{
		[]byte("dataitem"),
		[]byte("1"),
		[]byte(strconv.Itoa(int(d.sigType))),
		d.owner,
		d.target,
		d.anchor,
		d.tags,
		d.data,
	})
}

// assemble lays out the signed item in wire order.
func (d *dataItem) assemble(signature []byte) *transport.SignedDataItem {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, d.sigType)
	buf.Write(signature)
	buf.Write(d.owner)
	writeOptional(&buf, d.target)
	writeOptional(&buf, d.anchor)

	var tagCount uint64
	if len(d.tags) > 0 {
		tagCount = countTags(d.tags)
	}
	_ = binary.Write(&buf, binary.LittleEndian, tagCount)
	_ = binary.Write(&buf, binary.LittleEndian, uint64(len(d.tags)))
	buf.Write(d.tags)
	buf.Write(d.data)

	id := sha256.Sum256(signature)
	return &transport.SignedDataItem{
		ID:    base64.RawURLEncoding.EncodeToString(id[:]),
		Owner: base64.RawURLEncoding.EncodeToString(d.owner),
		Bytes: buf.Bytes(),
	}
}

func writeOptional(buf *bytes.Buffer, b []byte) {
	if len(b) == 0 {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	buf.Write(b)
}

// deepHash is the recursive SHA-384 commitment over a list of blobs.
func deepHash(chunks [][]byte) []byte {
	tag := append([]byte("list"), []byte(strconv.Itoa(len(chunks)))...)
	acc := sha384(tag)
	for _, c := range chunks {
		acc = sha384(append(acc, blobHash(c)...))
	}
	return acc
}

func blobHash(b []byte) []byte {
	tag := append([]byte("blob"), []byte(strconv.Itoa(len(b)))...)
	return sha384(append(sha384(tag), sha384(b)...))
}

func sha384(b []byte) []byte {
	h := sha512.Sum384(b)
	return h[:]
}

// encodeTags serializes tags as an avro array of {name: bytes, value: bytes} records.
func encodeTags(tags []transport.Tag) []byte {
	if len(tags) == 0 {
		return nil
	}
	var buf bytes.Buffer
	writeLong(&buf, int64(len(tags)))
	for _, t := range tags {
		writeLong(&buf, int64(len(t.Name)))
		buf.WriteString(t.Name)
		writeLong(&buf, int64(len(t.Value)))
		buf.WriteString(t.Value)
	}
	writeLong(&buf, 0)
	return buf.Bytes()
}

// countTags reads the block count back from an encoded tag array.
func countTags(encoded []byte) uint64 {
	n, _ := binary.Varint(encoded)
	if n < 0 {
		n = -n
	}
	return uint64(n)
}

// writeLong writes an avro zig-zag varint.
func writeLong(buf *bytes.Buffer, n int64) {
	var tmp [binary.MaxVarintLen64]byte
	l := binary.PutVarint(tmp[:], n)
	buf.Write(tmp[:l])
}
