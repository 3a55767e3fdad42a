// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package dsproof

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	// MaxPushDataSize is the largest signature push a spender may carry.
	// It matches the script element size limit.
	MaxPushDataSize = 520

	// maxPushDataItems caps the number of pushes read for a spender.  A
	// valid spender carries exactly one; the cap only bounds allocations
	// while decoding.
	maxPushDataItems = 16

	// spenderFixedSize is the serialized size of the fixed fields of a
	// spender: three uint32 values and three hashes.
	spenderFixedSize = 4*3 + chainhash.HashSize*3

	// outPointSize is the serialized size of an outpoint.
	outPointSize = chainhash.HashSize + 4
)

// ID uniquely identifies a double spend proof.  It is the double sha256 of
// the serialized proof.
type ID = chainhash.Hash

// Spender holds what a proof records about one of the two conflicting
// transactions: the fields of the transaction committed to by the signature
// hash and the signature itself.
type Spender struct {
	TxVersion       uint32
	OutSequence     uint32
	LockTime        uint32
	HashPrevOutputs chainhash.Hash
	HashSequence    chainhash.Hash
	HashOutputs     chainhash.Hash
	PushData        [][]byte
}

// Equal returns whether s and other hold the same values.
func (s *Spender) Equal(other *Spender) bool {
	if s.TxVersion != other.TxVersion || s.OutSequence != other.OutSequence ||
		s.LockTime != other.LockTime ||
		s.HashPrevOutputs != other.HashPrevOutputs ||
		s.HashSequence != other.HashSequence ||
		s.HashOutputs != other.HashOutputs ||
		len(s.PushData) != len(other.PushData) {

		return false
	}
	for i := range s.PushData {
		if !bytes.Equal(s.PushData[i], other.PushData[i]) {
			return false
		}
	}
	return true
}

// serializeSize returns the number of bytes it would take to serialize the
// spender.
func (s *Spender) serializeSize() int {
	n := spenderFixedSize + wire.VarIntSerializeSize(uint64(len(s.PushData)))
	for _, push := range s.PushData {
		n += wire.VarIntSerializeSize(uint64(len(push))) + len(push)
	}
	return n
}

// serialize encodes the spender to w.
func (s *Spender) serialize(w io.Writer) error {
	var buf [spenderFixedSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], s.TxVersion)
	binary.LittleEndian.PutUint32(buf[4:8], s.OutSequence)
	binary.LittleEndian.PutUint32(buf[8:12], s.LockTime)
	copy(buf[12:44], s.HashPrevOutputs[:])
	copy(buf[44:76], s.HashSequence[:])
	copy(buf[76:108], s.HashOutputs[:])
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}

	if err := wire.WriteVarInt(w, 0, uint64(len(s.PushData))); err != nil {
		return err
	}
	for _, push := range s.PushData {
		if err := wire.WriteVarBytes(w, 0, push); err != nil {
			return err
		}
	}
	return nil
}

// deserialize decodes a spender from r.
func (s *Spender) deserialize(r io.Reader) error {
	var buf [spenderFixedSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	s.TxVersion = binary.LittleEndian.Uint32(buf[0:4])
	s.OutSequence = binary.LittleEndian.Uint32(buf[4:8])
	s.LockTime = binary.LittleEndian.Uint32(buf[8:12])
	copy(s.HashPrevOutputs[:], buf[12:44])
	copy(s.HashSequence[:], buf[44:76])
	copy(s.HashOutputs[:], buf[76:108])

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > maxPushDataItems {
		str := fmt.Sprintf("too many push data items for a spender "+
			"[count %d, max %d]", count, maxPushDataItems)
		return ruleError(ErrMalformedProof, str)
	}
	s.PushData = make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		push, err := wire.ReadVarBytes(r, 0, MaxPushDataSize, "push data")
		if err != nil {
			return err
		}
		s.PushData = append(s.PushData, push)
	}
	return nil
}

// hashType returns the signature hash type of the spender, which is the last
// byte of its signature.  It returns zero when there is no signature.
func (s *Spender) hashType() uint32 {
	if len(s.PushData) == 0 || len(s.PushData[0]) == 0 {
		return 0
	}
	sig := s.PushData[0]
	return uint32(sig[len(sig)-1])
}

// DoubleSpendProof proves that two different transactions spend OutPoint.
type DoubleSpendProof struct {
	OutPoint wire.OutPoint
	Spender1 Spender
	Spender2 Spender
}

// IsEmpty returns whether the proof is missing its outpoint or either
// signature.
func (p *DoubleSpendProof) IsEmpty() bool {
	return p.OutPoint.Hash == (chainhash.Hash{}) ||
		len(p.Spender1.PushData) == 0 || len(p.Spender2.PushData) == 0
}

// SerializeSize returns the number of bytes it would take to serialize the
// proof.
func (p *DoubleSpendProof) SerializeSize() int {
	return outPointSize + p.Spender1.serializeSize() +
		p.Spender2.serializeSize()
}

// Serialize encodes the proof to w as the outpoint followed by both
// spenders.
func (p *DoubleSpendProof) Serialize(w io.Writer) error {
	var buf [outPointSize]byte
	copy(buf[:chainhash.HashSize], p.OutPoint.Hash[:])
	binary.LittleEndian.PutUint32(buf[chainhash.HashSize:], p.OutPoint.Index)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := p.Spender1.serialize(w); err != nil {
		return err
	}
	return p.Spender2.serialize(w)
}

// Deserialize decodes a proof from r into the receiver.  Decoding does not
// run the sanity checks; call CheckSanity on the result.
func (p *DoubleSpendProof) Deserialize(r io.Reader) error {
	var buf [outPointSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	copy(p.OutPoint.Hash[:], buf[:chainhash.HashSize])
	p.OutPoint.Index = binary.LittleEndian.Uint32(buf[chainhash.HashSize:])
	if err := p.Spender1.deserialize(r); err != nil {
		return err
	}
	return p.Spender2.deserialize(r)
}

// Bytes returns the serialized proof.
func (p *DoubleSpendProof) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(p.SerializeSize())

	// Writing to a bytes.Buffer never fails.
	_ = p.Serialize(&buf)
	return buf.Bytes()
}

// ID returns the double sha256 of the serialized proof.
func (p *DoubleSpendProof) ID() ID {
	return chainhash.DoubleHashH(p.Bytes())
}

// CheckSanity performs the context free checks on a proof: it must not be
// empty, each spender must carry exactly one non-empty push no larger than
// MaxPushDataSize and the two spenders must differ.
func (p *DoubleSpendProof) CheckSanity() error {
	if p.IsEmpty() {
		return ruleError(ErrMalformedProof, "proof is empty")
	}
	for _, s := range []*Spender{&p.Spender1, &p.Spender2} {
		if len(s.PushData) != 1 {
			str := fmt.Sprintf("proof spender has %d push data items, "+
				"must be exactly 1", len(s.PushData))
			return ruleError(ErrMalformedProof, str)
		}
		if len(s.PushData[0]) == 0 {
			return ruleError(ErrMalformedProof, "proof spender has "+
				"an empty push")
		}
		if len(s.PushData[0]) > MaxPushDataSize {
			str := fmt.Sprintf("proof spender push is %d bytes, max %d",
				len(s.PushData[0]), MaxPushDataSize)
			return ruleError(ErrMalformedProof, str)
		}
	}
	if p.Spender1.Equal(&p.Spender2) {
		return ruleError(ErrMalformedProof, "proof spenders are identical")
	}
	return nil
}

// IsCanonical returns whether the spenders are in canonical order.
func (p *DoubleSpendProof) IsCanonical() bool {
	return compareSpenders(&p.Spender1, &p.Spender2) <= 0
}

// compareHash compares two hashes as 256-bit little endian numbers, so the
// last byte is the most significant.  It returns -1, 0 or 1.
func compareHash(a, b *chainhash.Hash) int {
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return 0
}

// compareSpenders orders spenders by their outputs commitment, then by their
// previous outputs commitment.
func compareSpenders(s1, s2 *Spender) int {
	if c := compareHash(&s1.HashOutputs, &s2.HashOutputs); c != 0 {
		return c
	}
	return compareHash(&s1.HashPrevOutputs, &s2.HashPrevOutputs)
}
